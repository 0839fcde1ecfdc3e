package store

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the application tables, installs change-notification
// triggers on the watched tables, and seeds the initial admin user.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SchemaSQL()); err != nil {
		return fmt.Errorf("bootstrap tables: %w", err)
	}
	if trig := s.Dialect.ChangeTriggerSQL(); trig != "" {
		if _, err := s.DB.ExecContext(ctx, trig); err != nil {
			return fmt.Errorf("install change triggers: %w", err)
		}
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _users (id, email, password_hash, name, roles, active) VALUES (%s, %s, %s, %s, %s, %s)",
		pb.Add(GenerateUUID()), pb.Add("admin@credflow.local"), pb.Add(string(hash)),
		pb.Add("Administrator"), pb.Add(s.Dialect.ArrayParam([]string{"admin"})), pb.Add(true))
	if _, err := s.DB.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARN: seeded default admin user admin@credflow.local (change the password)")
	return nil
}
