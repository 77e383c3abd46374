// Package session orchestrates one screen's worth of bill analysis: it
// bootstraps an anonymous session, submits the image, parses the answer and
// owns the resulting bill while the user edits it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/bill"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/split"
)

var (
	// ErrBusy is returned when a request is issued while another is in flight.
	ErrBusy = errors.New("an analysis is already in progress")
	// ErrStale is returned to a request that was superseded by Reset.
	ErrStale = errors.New("analysis result discarded: a newer request replaced it")
	// ErrNoImage is returned when no image was selected.
	ErrNoImage = errors.New("please select an image first")
	// ErrNoBill is returned by bill edits before an itemized analysis succeeded.
	ErrNoBill = errors.New("no bill to edit")
)

// Request is one analysis attempt.
type Request struct {
	ImageURI string
	Mode     scanning.Mode
	// NumPeople updates the person count when positive. Only simple mode
	// sends it to the analysis service.
	NumPeople int
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Controller runs at most one analysis at a time and holds the current bill.
// It is safe for concurrent use.
type Controller struct {
	authenticator auth.Authenticator
	analyzer      scanning.Analyzer
	timeSource    TimeSource

	mu      sync.Mutex
	session *auth.Session
	state   State
	seq     uint64
	outcome scanning.Outcome
	lastErr error
	bill    *bill.Bill
	people  *split.Counter
}

// NewController creates a Controller with no session; the first Analyze
// signs in anonymously.
func NewController(authenticator auth.Authenticator, analyzer scanning.Analyzer) *Controller {
	return NewControllerWithDeps(authenticator, analyzer, nil, defaultTimeSource{})
}

// NewControllerWithDeps creates a Controller with an existing session and a
// custom time source.
func NewControllerWithDeps(authenticator auth.Authenticator, analyzer scanning.Analyzer, session *auth.Session, timeSource TimeSource) *Controller {
	return &Controller{
		authenticator: authenticator,
		analyzer:      analyzer,
		timeSource:    timeSource,
		session:       session,
		state:         StateIdle,
		people:        split.NewCounter(),
	}
}

// Analyze submits an image and waits for its outcome.
func (c *Controller) Analyze(ctx context.Context, req Request) (scanning.Outcome, error) {
	if strings.TrimSpace(req.ImageURI) == "" {
		return nil, ErrNoImage
	}

	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.seq++
	seq := c.seq
	if req.NumPeople > 0 {
		c.people.Set(req.NumPeople)
	}
	numPeople := c.people.Value()
	sess := c.session
	needAuth := !sess.Valid(c.timeSource.Now())
	if needAuth {
		c.state = StateAwaitingAuth
	} else {
		c.state = StateSubmitting
	}
	c.outcome = nil
	c.lastErr = nil
	c.mu.Unlock()

	if needAuth {
		var err error
		sess, err = c.signIn(ctx, seq, req.Mode)
		if err != nil {
			return nil, err
		}
	}

	analysisReq := scanning.AnalysisRequest{
		ImageURI:    req.ImageURI,
		Interactive: req.Mode == scanning.ModeItemized,
		AccessToken: sess.AccessToken,
	}
	if req.Mode == scanning.ModeSimple {
		analysisReq.NumPeople = numPeople
	}

	raw, err := c.analyzer.Analyze(ctx, analysisReq)
	if err != nil {
		// Unclassified analyzer failures are transport failures.
		if !errors.Is(err, scanning.ErrTransport) && !errors.Is(err, scanning.ErrImage) {
			err = fmt.Errorf("%w: %w", scanning.ErrTransport, err)
		}
		return nil, c.fail(seq, req.Mode, err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, c.fail(seq, req.Mode, fmt.Errorf("%w: empty analysis", scanning.ErrTransport))
	}

	outcome, err := scanning.Parse(raw, req.Mode)
	if err != nil {
		slog.Debug("Unparsable analysis", "mode", req.Mode, "raw", raw)
		return nil, c.fail(seq, req.Mode, fmt.Errorf("parsing analysis: %w", err))
	}

	return c.succeed(seq, outcome)
}

func (c *Controller) signIn(ctx context.Context, seq uint64, mode scanning.Mode) (*auth.Session, error) {
	sess, err := c.authenticator.SignInAnonymously(ctx)
	if err == nil && sess == nil {
		err = errors.New("no session returned")
	}
	if err != nil {
		if !errors.Is(err, auth.ErrAuth) {
			err = fmt.Errorf("%w: %w", auth.ErrAuth, err)
		}
		return nil, c.fail(seq, mode, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The session is kept even if this request went stale.
	c.session = sess
	if seq != c.seq {
		return nil, ErrStale
	}
	c.state = StateSubmitting
	return sess, nil
}

func (c *Controller) fail(seq uint64, mode scanning.Mode, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		slog.Debug("Discarding stale analysis failure", "sequence", seq, "error", err)
		return ErrStale
	}
	slog.Error("Failed to analyze bill", "sequence", seq, "mode", mode, "error", err)
	c.state = StateFailed
	c.lastErr = err
	return err
}

func (c *Controller) succeed(seq uint64, outcome scanning.Outcome) (scanning.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		slog.Debug("Discarding stale analysis result", "sequence", seq)
		return nil, ErrStale
	}
	c.state = StateSucceeded
	c.outcome = outcome
	switch o := outcome.(type) {
	case scanning.ItemizedBill:
		b := o.Bill
		c.bill = &b
	default:
		c.bill = nil
	}
	slog.Info("Bill analyzed", "sequence", seq, "mode", outcome.Mode())
	return outcome, nil
}

// Reset forgets the current image, outcome and bill. A request still in
// flight will have its result discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state = StateIdle
	c.outcome = nil
	c.lastErr = nil
	c.bill = nil
}

// Session returns the current session, or nil before the first sign-in.
func (c *Controller) Session() *auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Snapshot is a consistent view of a Controller.
type Snapshot struct {
	State     State            `json:"state"`
	Sequence  uint64           `json:"sequence"`
	Outcome   scanning.Outcome `json:"outcome,omitempty"`
	Error     string           `json:"error,omitempty"`
	Bill      *bill.Bill       `json:"bill,omitempty"`
	NumPeople int              `json:"num_people"`
	// PerPerson is the share of the bill total, or the simple-mode amount.
	PerPerson *decimal.Decimal `json:"per_person,omitempty"`

	Err error `json:"-"`
}

// Snapshot returns the controller's current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		Sequence:  c.seq,
		Outcome:   c.outcome,
		NumPeople: c.people.Value(),
		Err:       c.lastErr,
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	if c.bill != nil {
		b := *c.bill
		snap.Bill = &b
		share := split.Split(b.Total, c.people.Value())
		snap.PerPerson = &share
	} else if s, ok := c.outcome.(scanning.SimpleSplit); ok {
		amount := s.Amount
		snap.PerPerson = &amount
	}
	return snap
}
