package bill

import "fmt"

// TotalMode says where a bill's total came from.
type TotalMode int

const (
	// TotalAuto means the total is computed from the items.
	TotalAuto TotalMode = iota
	// TotalOverride means the total was typed by the user or read off the receipt.
	TotalOverride
)

func (m TotalMode) String() string {
	switch m {
	case TotalAuto:
		return "auto"
	case TotalOverride:
		return "override"
	default:
		return fmt.Sprintf("TotalMode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m TotalMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *TotalMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "auto", "":
		*m = TotalAuto
	case "override":
		*m = TotalOverride
	default:
		return fmt.Errorf("unknown total mode %q", string(text))
	}
	return nil
}
