// Package store is the read-only identity store backing the auth gate.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type profileRecord struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	Email     string    `bun:"email,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (r profileRecord) toDomain() domain.Profile {
	return domain.Profile{Name: r.Name, Contact: r.Email}
}

// Open connects to a sqlite database through bun.
func Open(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", dsn, err)
	}
	// single writer
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

type ProfileStore struct {
	db *bun.DB
}

func NewProfileStore(db *bun.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// EnsureSchema creates the profiles table for local setups.
func (s *ProfileStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*profileRecord)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: create profiles: %w", err)
	}
	return nil
}

// FindProfile returns ProfileNotFound for unknown ids.
func (s *ProfileStore) FindProfile(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	if s == nil || s.db == nil {
		return domain.Profile{}, errors.New("store: profile store is not configured")
	}
	var rec profileRecord
	err := s.db.NewSelect().
		Model(&rec).
		Where("p.id = ?", strings.TrimSpace(string(id))).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.ProfileNotFound(id, err)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("store: find profile: %w", err)
	}
	return rec.toDomain(), nil
}

// PutProfile inserts or replaces a profile. Used by local tooling and tests;
// the signaling path never writes.
func (s *ProfileStore) PutProfile(ctx context.Context, id domain.UserID, p domain.Profile) error {
	rec := &profileRecord{ID: string(id), Name: p.Name, Email: p.Contact, CreatedAt: time.Now().UTC()}
	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("email = EXCLUDED.email").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: put profile: %w", err)
	}
	return nil
}
