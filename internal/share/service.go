package share

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/bill"
)

// IDGenerator generates unique IDs for shared bills
type IDGenerator interface {
	Generate() string
}

// CodeGenerator generates access codes
type CodeGenerator interface {
	Generate() (string, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type ulidGenerator struct{}

func (ulidGenerator) Generate() string {
	return ulid.Make().String()
}

// fourDigitCode draws codes uniformly from 1000-9999.
type fourDigitCode struct{}

func (fourDigitCode) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generating access code: %w", err)
	}
	return fmt.Sprintf("%d", 1000+n.Int64()), nil
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

const (
	// MaxLookupAttempts wrong codes lock a bill for LookupLockout.
	MaxLookupAttempts = 5
	LookupLockout     = 15 * time.Minute
)

type lookupFailures struct {
	count       int
	lockedUntil time.Time
}

// Service creates and looks up shared bills
type Service struct {
	store      Store
	ids        IDGenerator
	codes      CodeGenerator
	timeSource TimeSource

	mu       sync.Mutex
	failures map[string]*lookupFailures
}

// NewService creates a Service with ULID ids and random four digit codes
func NewService(store Store) *Service {
	return NewServiceWithDeps(store, ulidGenerator{}, fourDigitCode{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(store Store, ids IDGenerator, codes CodeGenerator, timeSource TimeSource) *Service {
	return &Service{
		store:      store,
		ids:        ids,
		codes:      codes,
		timeSource: timeSource,
		failures:   make(map[string]*lookupFailures),
	}
}

// Share persists b on behalf of the session's user.
func (s *Service) Share(ctx context.Context, sess *auth.Session, b bill.Bill) (*Record, error) {
	if sess == nil || sess.UserID == "" {
		return nil, fmt.Errorf("%w: no session", auth.ErrAuth)
	}

	code, err := s.codes.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	items := make([]bill.Item, len(b.Items))
	copy(items, b.Items)

	record := &Record{
		ID:        s.ids.Generate(),
		Code:      code,
		OwnerID:   sess.UserID,
		Total:     b.Total,
		Items:     items,
		CreatedAt: s.timeSource.Now(),
	}

	if err := s.store.CreateBill(ctx, record); err != nil {
		slog.Error("Failed to save shared bill", "id", record.ID, "owner", record.OwnerID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	slog.Info("Shared bill", "id", record.ID, "owner", record.OwnerID, "items", len(items))
	return record, nil
}

// Lookup returns the shared bill with id if code matches its access code.
// After MaxLookupAttempts consecutive wrong codes the bill answers
// ErrTooManyAttempts until LookupLockout has passed.
func (s *Service) Lookup(ctx context.Context, id string, code string) (*Record, error) {
	if s.locked(id) {
		return nil, ErrTooManyAttempts
	}

	record, err := s.store.GetBill(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(strings.TrimSpace(code))) != 1 {
		if s.recordFailure(id) {
			slog.Warn("Locking shared bill after repeated wrong codes", "id", id, "until", s.timeSource.Now().Add(LookupLockout))
			return nil, ErrTooManyAttempts
		}
		return nil, ErrCodeMismatch
	}

	s.mu.Lock()
	delete(s.failures, id)
	s.mu.Unlock()
	return record, nil
}

func (s *Service) locked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[id]
	if !ok || f.lockedUntil.IsZero() {
		return false
	}
	if s.timeSource.Now().Before(f.lockedUntil) {
		return true
	}
	delete(s.failures, id)
	return false
}

// recordFailure counts a wrong code for id and reports whether it locked the bill.
func (s *Service) recordFailure(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[id]
	if !ok {
		f = &lookupFailures{}
		s.failures[id] = f
	}
	f.count++
	if f.count < MaxLookupAttempts {
		return false
	}
	f.count = 0
	f.lockedUntil = s.timeSource.Now().Add(LookupLockout)
	return true
}

// Link builds the URL a recipient opens to view a shared bill.
func Link(origin string, id string, code string) string {
	return fmt.Sprintf("%s/bills/%s?code=%s",
		strings.TrimRight(origin, "/"), url.PathEscape(id), url.QueryEscape(code))
}
