package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"credflow-backend/internal/store"
)

// Shared record plumbing for the fixed-schema CRUD handlers. Insert and
// update take an allow-list of writable columns; anything else in the body
// is dropped.

func (h *Handler) fetchByID(c *fiber.Ctx, table, id string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	return store.QueryRow(c.Context(), h.store.DB,
		fmt.Sprintf("SELECT * FROM %s WHERE id = %s", table, pb.Add(id)), pb.Params()...)
}

func (h *Handler) insert(c *fiber.Ctx, table string, allowed []string, body map[string]any) (map[string]any, error) {
	id := store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	cols := []string{"id"}
	vals := []string{pb.Add(id)}
	for _, field := range allowed {
		if v, ok := body[field]; ok {
			cols = append(cols, field)
			vals = append(vals, pb.Add(v))
		}
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		return nil, h.store.Dialect.MapError(err)
	}
	return h.fetchByID(c, table, id)
}

func (h *Handler) update(c *fiber.Ctx, table, id string, allowed []string, body map[string]any) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	var sets []string
	for _, field := range allowed {
		if v, ok := body[field]; ok {
			sets = append(sets, field+" = "+pb.Add(v))
		}
	}
	if len(sets) == 0 {
		return h.fetchByID(c, table, id)
	}
	sets = append(sets, "updated_at = "+h.store.Dialect.NowExpr())

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		table, strings.Join(sets, ", "), pb.Add(id))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		return nil, h.store.Dialect.MapError(err)
	}
	return h.fetchByID(c, table, id)
}

func (h *Handler) deleteByID(c *fiber.Ctx, table, id string) (int64, error) {
	pb := h.store.Dialect.NewParamBuilder()
	return store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, pb.Add(id)), pb.Params()...)
}

func (h *Handler) writeError(c *fiber.Ctx, entity string, err error) error {
	if errors.Is(err, store.ErrUniqueViolation) {
		return respondError(c, ConflictError(fmt.Sprintf("Duplicate %s", entity)))
	}
	return fmt.Errorf("write %s: %w", entity, err)
}
