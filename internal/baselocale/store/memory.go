// Package store persists base locales and their embedded sync records.
//
// Two implementations: an in-memory store for unit tests and a PostgreSQL
// store for production. Both guarantee that Execute runs its validate and
// mutate callbacks atomically with respect to other writers, which is what
// keeps guard checks and sync writes consistent.
package store

import (
	"context"
	"fmt"
	"sync"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/export"
	id "balregistry/pkg/domain"
	"balregistry/pkg/platform/sentinel"
)

// Memory is the in-memory store. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	bases map[id.BaseLocaleID]*models.BaseLocale
	rows  map[id.BaseLocaleID][]export.Row
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bases: make(map[id.BaseLocaleID]*models.BaseLocale),
		rows:  make(map[id.BaseLocaleID][]export.Row),
	}
}

// Create inserts a base locale. Fails when the ID is already taken.
func (s *Memory) Create(_ context.Context, bl *models.BaseLocale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bases[bl.ID]; exists {
		return fmt.Errorf("base locale %s: %w", bl.ID, sentinel.ErrConflict)
	}
	s.bases[bl.ID] = copyBaseLocale(bl)
	return nil
}

// FindByID returns a copy of the base locale, or sentinel.ErrNotFound.
func (s *Memory) FindByID(_ context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bl, exists := s.bases[blID]
	if !exists {
		return nil, fmt.Errorf("base locale %s: %w", blID, sentinel.ErrNotFound)
	}
	return copyBaseLocale(bl), nil
}

// FindSyncable lists the scheduler's work set: published, unpaused,
// undeleted base locales.
func (s *Memory) FindSyncable(_ context.Context) ([]*models.BaseLocale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BaseLocale
	for _, bl := range s.bases {
		if bl.Status == models.StatusPublished && !bl.Sync.IsPaused && !bl.IsDeleted() {
			out = append(out, copyBaseLocale(bl))
		}
	}
	return out, nil
}

// CountAddressRows counts live address entries for the base locale.
func (s *Memory) CountAddressRows(_ context.Context, blID id.BaseLocaleID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[blID]), nil
}

// Rows returns the address rows used by the canonical export.
func (s *Memory) Rows(_ context.Context, blID id.BaseLocaleID) ([]export.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]export.Row, len(s.rows[blID]))
	copy(rows, s.rows[blID])
	return rows, nil
}

// PutAddressRows replaces the address rows of a base locale. Test seeding
// helper; production rows come from the editing API outside this core.
func (s *Memory) PutAddressRows(blID id.BaseLocaleID, rows []export.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[blID] = append([]export.Row(nil), rows...)
}

// Execute atomically loads the base locale, runs validate, then applies
// mutate and persists the result. The store lock is held for the whole
// callback pair so no other writer can observe a half-applied record.
// inTx hooks run against the mutated record before it is persisted; a hook
// error discards the mutation, matching the postgres store's rollback.
func (s *Memory) Execute(
	ctx context.Context,
	blID id.BaseLocaleID,
	validate func(*models.BaseLocale) error,
	mutate func(*models.BaseLocale),
	inTx ...func(context.Context, *models.BaseLocale) error,
) (*models.BaseLocale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bl, exists := s.bases[blID]
	if !exists {
		return nil, fmt.Errorf("base locale %s: %w", blID, sentinel.ErrNotFound)
	}

	working := copyBaseLocale(bl)
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(working)
	}
	for _, hook := range inTx {
		if err := hook(ctx, working); err != nil {
			return nil, err
		}
	}
	s.bases[blID] = working
	return copyBaseLocale(working), nil
}

func copyBaseLocale(bl *models.BaseLocale) *models.BaseLocale {
	cp := *bl
	cp.Emails = append([]string(nil), bl.Emails...)
	if bl.DeletedAt != nil {
		deleted := *bl.DeletedAt
		cp.DeletedAt = &deleted
	}
	return &cp
}
