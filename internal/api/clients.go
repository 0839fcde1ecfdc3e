package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"credflow-backend/internal/model"
	"credflow-backend/internal/store"
)

var clientFields = []string{"name", "email", "phone", "document_number", "status", "monthly_income"}

// ListClients handles GET /api/clients
func (h *Handler) ListClients(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	sqlStr := "SELECT * FROM clients"
	pb := h.store.Dialect.NewParamBuilder()
	if status := c.Query("status"); status != "" {
		sqlStr += " WHERE status = " + pb.Add(status)
	}
	sqlStr += " ORDER BY created_at DESC"

	rows, err := store.QueryRows(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// GetClient handles GET /api/clients/:id
func (h *Handler) GetClient(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	id := c.Params("id")
	row, err := h.fetchByID(c, "clients", id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("client", id))
		}
		return fmt.Errorf("get client %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// CreateClient handles POST /api/clients — the registration form backend.
// Any authenticated user may register a client.
func (h *Handler) CreateClient(c *fiber.Ctx) error {
	body, appErr := parseBody(c)
	if appErr != nil {
		return respondError(c, appErr)
	}

	if details := validateClient(body, true); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}
	if stringField(body, "status") == "" {
		body["status"] = "pending"
	}

	record, err := h.insert(c, "clients", clientFields, body)
	if err != nil {
		return h.writeError(c, "client", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": record})
}

// UpdateClient handles PUT /api/clients/:id
func (h *Handler) UpdateClient(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	id := c.Params("id")
	if _, err := h.fetchByID(c, "clients", id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("client", id))
		}
		return fmt.Errorf("fetch client %s: %w", id, err)
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return respondError(c, appErr)
	}
	if details := validateClient(body, false); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}

	record, err := h.update(c, "clients", id, clientFields, body)
	if err != nil {
		return h.writeError(c, "client", err)
	}
	return c.JSON(fiber.Map{"data": record})
}

// DeleteClient handles DELETE /api/clients/:id
func (h *Handler) DeleteClient(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	n, err := h.deleteByID(c, "clients", id)
	if err != nil {
		return fmt.Errorf("delete client %s: %w", id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError("client", id))
	}
	return c.JSON(fiber.Map{"message": "Deleted"})
}

func validateClient(body map[string]any, creating bool) []ErrorDetail {
	var details []ErrorDetail
	if creating && strings.TrimSpace(stringField(body, "name")) == "" {
		details = append(details, ErrorDetail{Field: "name", Rule: "required", Message: "Name is required"})
	}
	if status := stringField(body, "status"); status != "" && !model.IsClientStatus(status) {
		details = append(details, ErrorDetail{Field: "status", Rule: "enum",
			Message: fmt.Sprintf("Unknown client status %q", status)})
	}
	return details
}
