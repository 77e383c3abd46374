package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTransport covers every way the analysis service can fail to hand back a
// usable body: network errors, non-2xx responses and empty answers.
var ErrTransport = errors.New("analysis transport error")

// Mode selects between a single per-person amount and a full item list.
type Mode int

const (
	// ModeSimple asks for one person's share of the bill.
	ModeSimple Mode = iota
	// ModeItemized asks for every line item plus the total.
	ModeItemized
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeItemized:
		return "itemized"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode accepts "simple" (also "traditional") and "itemized" (also
// "interactive"). An empty string is simple mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple", "traditional":
		return ModeSimple, nil
	case "itemized", "interactive":
		return ModeItemized, nil
	default:
		return ModeSimple, fmt.Errorf("unknown analysis mode %q", s)
	}
}

// AnalysisRequest is what gets sent to the analysis service.
type AnalysisRequest struct {
	// ImageURI is either a base64 data URI or a key in upload storage.
	ImageURI string `json:"imageUri"`
	// NumPeople is only sent in simple mode.
	NumPeople int `json:"numPeople,omitempty"`
	// Interactive is true in itemized mode.
	Interactive bool `json:"interactive"`
	// AccessToken authenticates the caller against a remote function.
	AccessToken string `json:"-"`
}

// Mode returns the analysis mode the request asks for.
func (r AnalysisRequest) Mode() Mode {
	if r.Interactive {
		return ModeItemized
	}
	return ModeSimple
}

// Analyzer defines the interface for the remote analysis service
type Analyzer interface {
	// Analyze sends the image to the service and returns its raw text answer
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
	// Close releases any resources held by the analyzer
	Close() error
}
