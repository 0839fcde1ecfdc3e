package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"credflow-backend/internal/model"
	"credflow-backend/internal/store"
)

// User administration backing the admin screen. Password hashes never leave
// the store.

// ListUsers handles GET /api/users
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	rows, err := store.QueryRows(c.Context(), h.store.DB,
		"SELECT id, email, name, roles, active, created_at FROM _users ORDER BY created_at ASC")
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, []string{"active"})
	}
	for _, row := range rows {
		h.decodeUserRoles(row)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// CreateUser handles POST /api/users
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	var body struct {
		Email    string   `json:"email"`
		Password string   `json:"password"`
		Name     string   `json:"name"`
		Roles    []string `json:"roles"`
	}
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	if details := validateUser(body.Email, body.Password, body.Roles); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	id := store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _users (id, email, password_hash, name, roles, active) VALUES (%s, %s, %s, %s, %s, %s)",
		pb.Add(id), pb.Add(strings.ToLower(body.Email)), pb.Add(string(hash)),
		pb.Add(body.Name), pb.Add(h.store.Dialect.ArrayParam(body.Roles)), pb.Add(true))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return respondError(c, ConflictError("A user with that email already exists"))
		}
		return fmt.Errorf("create user: %w", err)
	}

	return c.Status(201).JSON(fiber.Map{"data": fiber.Map{
		"id": id, "email": strings.ToLower(body.Email), "name": body.Name, "roles": body.Roles,
	}})
}

// UpdateUser handles PUT /api/users/:id
func (h *Handler) UpdateUser(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	var body struct {
		Name     *string   `json:"name"`
		Password *string   `json:"password"`
		Roles    *[]string `json:"roles"`
		Active   *bool     `json:"active"`
	}
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	pb := h.store.Dialect.NewParamBuilder()
	var sets []string
	if body.Name != nil {
		sets = append(sets, "name = "+pb.Add(*body.Name))
	}
	if body.Password != nil {
		if *body.Password == "" {
			return respondError(c, ValidationError([]ErrorDetail{
				{Field: "password", Rule: "required", Message: "Password cannot be empty"},
			}))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		sets = append(sets, "password_hash = "+pb.Add(string(hash)))
	}
	if body.Roles != nil {
		if details := validateRoles(*body.Roles); len(details) > 0 {
			return respondError(c, ValidationError(details))
		}
		sets = append(sets, "roles = "+pb.Add(h.store.Dialect.ArrayParam(*body.Roles)))
	}
	if body.Active != nil {
		sets = append(sets, "active = "+pb.Add(*body.Active))
	}
	if len(sets) == 0 {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Nothing to update"))
	}
	sets = append(sets, "updated_at = "+h.store.Dialect.NowExpr())

	n, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf("UPDATE _users SET %s WHERE id = %s", strings.Join(sets, ", "), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError("user", id))
	}
	return c.JSON(fiber.Map{"message": "Updated"})
}

// DeleteUser handles DELETE /api/users/:id
func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	id := c.Params("id")
	user := getUser(c)
	if user != nil && user.ID == id {
		return respondError(c, NewAppError("INVALID_OPERATION", 400, "Cannot delete your own account"))
	}

	n, err := h.deleteByID(c, "_users", id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError("user", id))
	}
	return c.JSON(fiber.Map{"message": "Deleted"})
}

func (h *Handler) decodeUserRoles(row map[string]any) {
	roles, err := h.store.Dialect.ScanArray(row["roles"])
	if err != nil {
		roles = []string{}
	}
	row["roles"] = roles
}

func validateUser(email, password string, roles []string) []ErrorDetail {
	var details []ErrorDetail
	if strings.TrimSpace(email) == "" {
		details = append(details, ErrorDetail{Field: "email", Rule: "required", Message: "Email is required"})
	}
	if len(password) < 8 {
		details = append(details, ErrorDetail{Field: "password", Rule: "min_length",
			Message: "Password must be at least 8 characters"})
	}
	details = append(details, validateRoles(roles)...)
	return details
}

func validateRoles(roles []string) []ErrorDetail {
	for _, r := range roles {
		switch r {
		case model.RoleClient, model.RoleManager, model.RoleAdmin:
		default:
			return []ErrorDetail{{Field: "roles", Rule: "enum",
				Message: fmt.Sprintf("Unknown role %q", r)}}
		}
	}
	return nil
}
