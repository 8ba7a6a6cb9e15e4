package run

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"discovery/internal/core/model"
	"discovery/internal/core/query"
	"discovery/internal/utils/parser"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler { return &Handler{service: service} }

type runResponse struct {
	Success bool                `json:"success"`
	Run     *model.DiscoveryRun `json:"run"`
}

type listResponse struct {
	Success bool                  `json:"success"`
	Runs    []*model.DiscoveryRun `json:"runs"`
	Offset  int                   `json:"offset"`
	Limit   int                   `json:"limit"`
}

type previewResponse struct {
	Success bool                   `json:"success"`
	Source  string                 `json:"source"`
	Queries []model.DiscoveryQuery `json:"queries"`
}

// HandleCreate serves POST /v1/runs
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail("invalid body"))
	}
	r, err := h.service.Submit(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(runResponse{Success: true, Run: r})
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	r, err := h.service.Runs().Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(runResponse{Success: true, Run: r})
}

// HandleList serves GET /v1/runs, newest first
func (h *Handler) HandleList(c *fiber.Ctx) error {
	var p model.ListParams
	if err := parser.ParseQuery(c, &p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail(err.Error()))
	}
	p.Clamp()
	runs, err := h.service.Runs().List(c.Context(), p.Offset, p.Limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(listResponse{Success: true, Runs: runs, Offset: p.Offset, Limit: p.Limit})
}

// HandleCancel serves POST /v1/runs/:id/cancel
func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	r, err := h.service.Runs().Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(runResponse{Success: true, Run: r})
}

// HandlePreview serves POST /v1/queries/preview: query generation only,
// nothing is stored
func (h *Handler) HandlePreview(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail("invalid body"))
	}
	if err := req.validate(); err != nil {
		return h.fail(c, err)
	}
	opts := req.Options()
	if opts.MaxQueries == 0 {
		opts.MaxQueries = query.DefaultMaxQueries
	}
	res, err := h.service.Generator().Generate(c.Context(), req.Brief, opts)
	if err != nil {
		return h.fail(c, err)
	}
	queries := enabledQueries(res.Queries, req.Connectors)
	return c.JSON(previewResponse{Success: true, Source: res.Source, Queries: queries})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidBrief):
		return c.Status(fiber.StatusBadRequest).JSON(model.Fail(err.Error()))
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(model.Fail("not_found"))
	case errors.Is(err, ErrTerminal):
		return c.Status(fiber.StatusConflict).JSON(model.Fail(err.Error()))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(model.Fail(err.Error()))
}
