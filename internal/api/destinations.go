package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/gofiber/fiber/v2"

	"credflow-backend/internal/store"
	"credflow-backend/internal/webhook"
)

// DestinationHandler serves the webhook destination management screen.
// Every write invalidates the dispatcher's configuration cache so edits
// take effect without waiting out the TTL.
type DestinationHandler struct {
	store      *store.Store
	dispatcher *webhook.Dispatcher
}

func NewDestinationHandler(s *store.Store, d *webhook.Dispatcher) *DestinationHandler {
	return &DestinationHandler{store: s, dispatcher: d}
}

type destinationBody struct {
	Name      string                   `json:"name"`
	URL       string                   `json:"url"`
	Secret    string                   `json:"secret"`
	Enabled   *bool                    `json:"enabled"`
	Events    webhook.EventFlags       `json:"events"`
	Condition string                   `json:"condition"`
	Throttle  webhook.ThrottleSettings `json:"throttle"`
}

// ListDestinations handles GET /api/webhooks/destinations
func (h *DestinationHandler) ListDestinations(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	rows, err := store.QueryRows(c.Context(), h.store.DB,
		"SELECT * FROM webhook_destinations ORDER BY created_at ASC")
	if err != nil {
		return fmt.Errorf("list destinations: %w", err)
	}

	dests := make([]webhook.Destination, 0, len(rows))
	for _, row := range rows {
		d, err := webhook.DestinationFromRow(row)
		if err != nil {
			return fmt.Errorf("decode destination: %w", err)
		}
		dests = append(dests, d)
	}
	return c.JSON(fiber.Map{"data": dests})
}

// GetDestination handles GET /api/webhooks/destinations/:id
func (h *DestinationHandler) GetDestination(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	row, err := h.fetchRow(c, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("destination", id))
		}
		return fmt.Errorf("get destination %s: %w", id, err)
	}
	dest, err := webhook.DestinationFromRow(row)
	if err != nil {
		return fmt.Errorf("decode destination %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": dest})
}

// CreateDestination handles POST /api/webhooks/destinations
func (h *DestinationHandler) CreateDestination(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	var body destinationBody
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	if details := validateDestination(&body); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	id := store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`INSERT INTO webhook_destinations (id, name, url, secret, enabled, events, condition, throttle)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(id), pb.Add(body.Name), pb.Add(body.URL), pb.Add(body.Secret), pb.Add(enabled),
		pb.Add(store.EncodeJSON(body.Events)), pb.Add(body.Condition), pb.Add(store.EncodeJSON(body.Throttle)))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	h.dispatcher.InvalidateCache()

	row, err := h.fetchRow(c, id)
	if err != nil {
		return fmt.Errorf("fetch destination %s: %w", id, err)
	}
	dest, err := webhook.DestinationFromRow(row)
	if err != nil {
		return fmt.Errorf("decode destination %s: %w", id, err)
	}
	return c.Status(201).JSON(fiber.Map{"data": dest})
}

// UpdateDestination handles PUT /api/webhooks/destinations/:id
func (h *DestinationHandler) UpdateDestination(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	if _, err := h.fetchRow(c, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("destination", id))
		}
		return fmt.Errorf("fetch destination %s: %w", id, err)
	}

	var body destinationBody
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	if details := validateDestination(&body); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`UPDATE webhook_destinations
		 SET name = %s, url = %s, secret = %s, enabled = %s, events = %s, condition = %s, throttle = %s,
		     updated_at = %s
		 WHERE id = %s`,
		pb.Add(body.Name), pb.Add(body.URL), pb.Add(body.Secret), pb.Add(enabled),
		pb.Add(store.EncodeJSON(body.Events)), pb.Add(body.Condition), pb.Add(store.EncodeJSON(body.Throttle)),
		h.store.Dialect.NowExpr(), pb.Add(id))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("update destination %s: %w", id, err)
	}

	h.dispatcher.InvalidateCache()

	row, err := h.fetchRow(c, id)
	if err != nil {
		return fmt.Errorf("fetch destination %s: %w", id, err)
	}
	dest, err := webhook.DestinationFromRow(row)
	if err != nil {
		return fmt.Errorf("decode destination %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": dest})
}

// DeleteDestination handles DELETE /api/webhooks/destinations/:id
func (h *DestinationHandler) DeleteDestination(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.Context(), h.store.DB,
		"DELETE FROM webhook_destinations WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete destination %s: %w", id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError("destination", id))
	}

	h.dispatcher.InvalidateCache()
	return c.JSON(fiber.Map{"message": "Deleted"})
}

// TestDestination handles POST /api/webhooks/destinations/:id/test — sends a
// synthetic ping so the admin can verify the endpoint before enabling it.
func (h *DestinationHandler) TestDestination(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	row, err := h.fetchRow(c, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError("destination", id))
		}
		return fmt.Errorf("fetch destination %s: %w", id, err)
	}
	dest, err := webhook.DestinationFromRow(row)
	if err != nil {
		return fmt.Errorf("decode destination %s: %w", id, err)
	}
	if dest.URL == "" {
		return respondError(c, NewAppError("INVALID_OPERATION", 400, "Destination has no URL"))
	}

	delivered := h.dispatcher.SendTest(c.Context(), dest)
	return c.JSON(fiber.Map{"data": fiber.Map{"delivered": delivered}})
}

// ListDeliveries handles GET /api/webhooks/deliveries — the delivery audit
// screen. Filterable by destination and event kind.
func (h *DestinationHandler) ListDeliveries(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	var filters []string
	if destID := c.Query("destination_id"); destID != "" {
		filters = append(filters, "destination_id = "+pb.Add(destID))
	}
	if event := c.Query("event"); event != "" {
		filters = append(filters, "event = "+pb.Add(event))
	}

	sqlStr := "SELECT * FROM _webhook_deliveries"
	if len(filters) > 0 {
		sqlStr += " WHERE " + strings.Join(filters, " AND ")
	}
	sqlStr += " ORDER BY created_at DESC LIMIT 200"

	rows, err := store.QueryRows(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

func (h *DestinationHandler) fetchRow(c *fiber.Ctx, id string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	return store.QueryRow(c.Context(), h.store.DB,
		"SELECT * FROM webhook_destinations WHERE id = "+pb.Add(id), pb.Params()...)
}

func validateDestination(body *destinationBody) []ErrorDetail {
	var details []ErrorDetail
	if strings.TrimSpace(body.Name) == "" {
		details = append(details, ErrorDetail{Field: "name", Rule: "required", Message: "Name is required"})
	}
	if body.URL != "" && !strings.HasPrefix(body.URL, "http://") && !strings.HasPrefix(body.URL, "https://") {
		details = append(details, ErrorDetail{Field: "url", Rule: "format",
			Message: "URL must start with http:// or https://"})
	}
	if body.Condition != "" {
		if _, err := expr.Compile(body.Condition, expr.AsBool()); err != nil {
			details = append(details, ErrorDetail{Field: "condition", Rule: "expression",
				Message: fmt.Sprintf("Condition does not compile: %v", err)})
		}
	}
	if body.Throttle.Interval < 0 {
		details = append(details, ErrorDetail{Field: "throttle.interval", Rule: "min",
			Message: "Throttle interval cannot be negative"})
	}
	return details
}
