package seed

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"discovery/internal/core/model"
	"discovery/internal/utils/parser"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler { return &Handler{store: store} }

type listResponse struct {
	Success bool          `json:"success"`
	Seeds   []*model.Seed `json:"seeds"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
}

type seedResponse struct {
	Success bool        `json:"success"`
	Seed    *model.Seed `json:"seed"`
}

// HandleListByRun serves GET /v1/runs/:id/seeds. An optional status
// filters the page after loading.
func (h *Handler) HandleListByRun(c *fiber.Ctx) error {
	var p model.ListParams
	if err := parser.ParseQuery(c, &p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail(err.Error()))
	}
	p.Clamp()
	seeds, err := h.store.ListByRun(c.Context(), c.Params("id"), p.Offset, p.Limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(model.Fail(err.Error()))
	}
	if p.Status != "" {
		filtered := seeds[:0]
		for _, s := range seeds {
			if string(s.ReviewStatus) == p.Status {
				filtered = append(filtered, s)
			}
		}
		seeds = filtered
	}
	return c.JSON(listResponse{Success: true, Seeds: seeds, Offset: p.Offset, Limit: p.Limit})
}

// HandleList serves GET /v1/seeds, the review queue. Status defaults to pending.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	var p model.ListParams
	if err := parser.ParseQuery(c, &p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail(err.Error()))
	}
	p.Clamp()
	status := model.ReviewStatus(p.Status)
	switch status {
	case "":
		status = model.ReviewPending
	case model.ReviewPending, model.ReviewReviewed, model.ReviewApproved, model.ReviewRejected:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail("unknown status " + p.Status))
	}
	seeds, err := h.store.ListByStatus(c.Context(), status, p.Offset, p.Limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(model.Fail(err.Error()))
	}
	return c.JSON(listResponse{Success: true, Seeds: seeds, Offset: p.Offset, Limit: p.Limit})
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	s, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(seedResponse{Success: true, Seed: s})
}

// HandleReview serves POST /v1/seeds/:id/review
func (h *Handler) HandleReview(c *fiber.Ctx) error {
	var d Decision
	if err := c.BodyParser(&d); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail("invalid body"))
	}
	if d.Reviewer == "" {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail("reviewer is required"))
	}
	s, err := h.store.Review(c.Context(), c.Params("id"), d)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(seedResponse{Success: true, Seed: s})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(model.Fail("not_found"))
	case errors.Is(err, ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(model.Fail(err.Error()))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(model.Fail(err.Error()))
}
