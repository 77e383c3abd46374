// Package share persists finished bills so they can be opened from a link
// protected by a short access code.
package share

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/bill"
)

var (
	// ErrPersistence wraps any failure writing or reading a shared bill.
	ErrPersistence = errors.New("could not save the bill, please try again")
	// ErrNotFound is returned when no shared bill has the requested ID.
	ErrNotFound = errors.New("shared bill not found")
	// ErrCodeMismatch is returned when the access code does not match.
	ErrCodeMismatch = errors.New("access code does not match")
	// ErrTooManyAttempts is returned while a bill is locked after repeated wrong codes.
	ErrTooManyAttempts = errors.New("too many wrong access codes, try again later")
)

// Record is a shared bill.
type Record struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	OwnerID   string          `json:"owner_id"`
	Total     decimal.Decimal `json:"total"`
	Items     []bill.Item     `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store defines the interface for shared bill persistence
type Store interface {
	// CreateBill writes the record and all of its items atomically
	CreateBill(ctx context.Context, record *Record) error

	// GetBill retrieves a record by ID, returning ErrNotFound if it does not exist
	GetBill(ctx context.Context, id string) (*Record, error)

	// Close releases the underlying connection
	Close() error
}
