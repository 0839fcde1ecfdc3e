package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"credflow-backend/internal/model"
	"credflow-backend/internal/store"
)

var proposalFields = []string{"number", "client_id", "bank_id", "amount", "installments", "status", "pipeline_status"}

// ListProposals handles GET /api/proposals — the proposal table and the
// Kanban board read from here.
func (h *Handler) ListProposals(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	var filters []string
	if status := c.Query("status"); status != "" {
		filters = append(filters, "status = "+pb.Add(status))
	}
	if stage := c.Query("pipeline_status"); stage != "" {
		filters = append(filters, "pipeline_status = "+pb.Add(stage))
	}
	if clientID := c.Query("client_id"); clientID != "" {
		filters = append(filters, "client_id = "+pb.Add(clientID))
	}

	sqlStr := "SELECT * FROM proposals"
	if len(filters) > 0 {
		sqlStr += " WHERE " + strings.Join(filters, " AND ")
	}
	sqlStr += " ORDER BY created_at DESC"

	rows, err := store.QueryRows(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// GetProposal handles GET /api/proposals/:id
func (h *Handler) GetProposal(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	id := c.Params("id")
	row, err := h.fetchByID(c, "proposals", id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("proposal", id))
		}
		return fmt.Errorf("get proposal %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// CreateProposal handles POST /api/proposals
func (h *Handler) CreateProposal(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return respondError(c, appErr)
	}

	if details := validateProposal(body); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}
	if stringField(body, "number") == "" {
		body["number"] = generateProposalNumber()
	}
	if stringField(body, "status") == "" {
		body["status"] = "draft"
	}
	if stringField(body, "pipeline_status") == "" {
		body["pipeline_status"] = model.StageSubmitted
	}

	record, err := h.insert(c, "proposals", proposalFields, body)
	if err != nil {
		return h.writeError(c, "proposal", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": record})
}

// UpdateProposal handles PUT /api/proposals/:id. Pipeline moves go through
// MovePipeline so stage transitions stay validated.
func (h *Handler) UpdateProposal(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	id := c.Params("id")
	if _, err := h.fetchByID(c, "proposals", id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("proposal", id))
		}
		return fmt.Errorf("fetch proposal %s: %w", id, err)
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return respondError(c, appErr)
	}
	delete(body, "pipeline_status")
	if details := validateProposal(body); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}

	record, err := h.update(c, "proposals", id, proposalFields, body)
	if err != nil {
		return h.writeError(c, "proposal", err)
	}
	return c.JSON(fiber.Map{"data": record})
}

// MovePipeline handles PATCH /api/proposals/:id/pipeline — a Kanban card
// move. The target stage must be adjacent to the current one.
func (h *Handler) MovePipeline(c *fiber.Ctx) error {
	if err := requireStaff(c); err != nil {
		return err
	}

	id := c.Params("id")
	current, err := h.fetchByID(c, "proposals", id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("proposal", id))
		}
		return fmt.Errorf("fetch proposal %s: %w", id, err)
	}

	var body struct {
		To string `json:"to"`
	}
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	from, _ := current["pipeline_status"].(string)
	if err := model.ValidateStageTransition(from, body.To); err != nil {
		return respondError(c, NewAppError("INVALID_TRANSITION", 422, err.Error()))
	}

	record, err := h.update(c, "proposals", id, []string{"pipeline_status"},
		map[string]any{"pipeline_status": body.To})
	if err != nil {
		return h.writeError(c, "proposal", err)
	}
	return c.JSON(fiber.Map{"data": record})
}

// DeleteProposal handles DELETE /api/proposals/:id
func (h *Handler) DeleteProposal(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	n, err := h.deleteByID(c, "proposals", id)
	if err != nil {
		return fmt.Errorf("delete proposal %s: %w", id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError("proposal", id))
	}
	return c.JSON(fiber.Map{"message": "Deleted"})
}

func validateProposal(body map[string]any) []ErrorDetail {
	var details []ErrorDetail
	if status := stringField(body, "status"); status != "" && !model.IsProposalStatus(status) {
		details = append(details, ErrorDetail{Field: "status", Rule: "enum",
			Message: fmt.Sprintf("Unknown proposal status %q", status)})
	}
	if stage := stringField(body, "pipeline_status"); stage != "" && !model.IsPipelineStage(stage) {
		details = append(details, ErrorDetail{Field: "pipeline_status", Rule: "enum",
			Message: fmt.Sprintf("Unknown pipeline stage %q", stage)})
	}
	return details
}

func generateProposalNumber() string {
	// Short, human-quotable identifier for support calls.
	return "P-" + strings.ToUpper(store.GenerateUUID()[:8])
}
