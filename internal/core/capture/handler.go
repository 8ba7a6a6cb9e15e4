package capture

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"discovery/internal/core/model"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler { return &Handler{store: store} }

type captureResponse struct {
	Success bool           `json:"success"`
	Capture *model.Capture `json:"capture"`
	URLs    []string       `json:"urls"`
}

type markdownResponse struct {
	Success  bool   `json:"success"`
	Hash     string `json:"content_hash"`
	Markdown string `json:"markdown"`
}

// HandleGet serves GET /v1/captures/:hash without the body
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	hash := c.Params("hash")
	rec, err := h.store.Get(c.Context(), hash)
	if err != nil {
		return h.fail(c, err)
	}
	urls, err := h.store.URLs(c.Context(), hash)
	if err != nil {
		return h.fail(c, err)
	}
	rec.Body = nil
	return c.JSON(captureResponse{Success: true, Capture: rec, URLs: urls})
}

// HandleMarkdown serves GET /v1/captures/:hash/markdown, the readable
// content reviewers look at before approving a seed
func (h *Handler) HandleMarkdown(c *fiber.Ctx) error {
	hash := c.Params("hash")
	md, err := h.store.Markdown(c.Context(), hash)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(markdownResponse{Success: true, Hash: hash, Markdown: md})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(model.Fail("not_found"))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(model.Fail(err.Error()))
}
