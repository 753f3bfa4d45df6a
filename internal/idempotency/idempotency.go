// Package idempotency implements the dedupe-by-clientMessageId gate shared
// by every surface's ingest path. Uniqueness is enforced at the database
// layer (a unique index scoped to surface/sender/conversation); this
// package only supplies the retry-once-on-conflict dance so callers don't
// each reimplement it.
package idempotency

import (
	"context"
	"errors"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Outcome reports whether a create actually happened or a prior row with
// the same idempotency key already existed.
type Outcome struct {
	Duplicate bool
}

// Create attempts to insert row via tx. If the insert fails with a unique
// constraint violation, load calls fetch to retrieve the row that won the
// race and reports Duplicate=true. Any other error is returned unwrapped.
func Create(ctx context.Context, tx *gorm.DB, row interface{}, fetchExisting func() error) (Outcome, error) {
	err := tx.WithContext(ctx).Create(row).Error
	if err == nil {
		return Outcome{Duplicate: false}, nil
	}
	if !IsUniqueViolation(err) {
		return Outcome{}, err
	}
	if fetchErr := fetchExisting(); fetchErr != nil {
		return Outcome{}, fetchErr
	}
	return Outcome{Duplicate: true}, nil
}

// IsUniqueViolation recognizes both GORM's driver-agnostic sentinel and a
// raw Postgres unique_violation (SQLSTATE 23505) as reported by lib/pq.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
