package api

import (
	"github.com/gofiber/fiber/v2"

	"credflow-backend/internal/model"
	"credflow-backend/internal/store"
)

// Handler serves the CRUD endpoints backing the registration forms, the
// proposal table and the Kanban board. It only writes records; outbound
// webhook notification is the change monitor's job.
type Handler struct {
	store *store.Store
}

func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

func getUser(c *fiber.Ctx) *model.UserContext {
	user, _ := c.Locals("user").(*model.UserContext)
	return user
}

func requireStaff(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	if !user.IsStaff() {
		return ForbiddenError("Manager or admin access required")
	}
	return nil
}

func requireAdmin(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	if !user.IsAdmin() {
		return ForbiddenError("Admin access required")
	}
	return nil
}

func respondError(c *fiber.Ctx, err *AppError) error {
	return c.Status(err.Status).JSON(ErrorResponse{Error: err})
}

// parseBody decodes the JSON request body into a record map.
func parseBody(c *fiber.Ctx) (map[string]any, *AppError) {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	return body, nil
}

func stringField(record map[string]any, key string) string {
	if s, ok := record[key].(string); ok {
		return s
	}
	return ""
}
