package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"credflow-backend/internal/store"
)

var bankFields = []string{"name", "trading_name"}

// ListBanks handles GET /api/banks
func (h *Handler) ListBanks(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		"SELECT * FROM banks ORDER BY name ASC")
	if err != nil {
		return fmt.Errorf("list banks: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// CreateBank handles POST /api/banks
func (h *Handler) CreateBank(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return respondError(c, appErr)
	}
	if strings.TrimSpace(stringField(body, "name")) == "" {
		return respondError(c, ValidationError([]ErrorDetail{
			{Field: "name", Rule: "required", Message: "Name is required"},
		}))
	}

	record, err := h.insert(c, "banks", bankFields, body)
	if err != nil {
		return h.writeError(c, "bank", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": record})
}

// UpdateBank handles PUT /api/banks/:id
func (h *Handler) UpdateBank(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	if _, err := h.fetchByID(c, "banks", id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("bank", id))
		}
		return fmt.Errorf("fetch bank %s: %w", id, err)
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return respondError(c, appErr)
	}

	record, err := h.update(c, "banks", id, bankFields, body)
	if err != nil {
		return h.writeError(c, "bank", err)
	}
	return c.JSON(fiber.Map{"data": record})
}

// DeleteBank handles DELETE /api/banks/:id
func (h *Handler) DeleteBank(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	n, err := h.deleteByID(c, "banks", id)
	if err != nil {
		return fmt.Errorf("delete bank %s: %w", id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError("bank", id))
	}
	return c.JSON(fiber.Map{"message": "Deleted"})
}
