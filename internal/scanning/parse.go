package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/bill"
	"github.com/zombor/splitit/internal/money"
)

var (
	// ErrNoAmountFound means a simple-mode answer had neither a usable
	// splitAmount nor a dollar figure.
	ErrNoAmountFound = errors.New("no split amount found in analysis")
	// ErrMalformedItemized means an itemized answer had no JSON object or
	// was missing required fields.
	ErrMalformedItemized = errors.New("malformed itemized analysis")
)

var (
	// flatObjectPattern matches {...} with no nested braces.
	flatObjectPattern = regexp.MustCompile(`\{[^}]+\}`)
	// dollarPattern matches $12, $12. and $12.34
	dollarPattern = regexp.MustCompile(`\$(\d+\.?\d*)`)
	// outerObjectPattern spans the first '{' to the last '}'.
	outerObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Parse turns a raw analysis answer into an Outcome.
func Parse(raw string, mode Mode) (Outcome, error) {
	switch mode {
	case ModeSimple:
		amount, err := ParseSimple(raw)
		if err != nil {
			return nil, err
		}
		return SimpleSplit{Amount: amount}, nil
	case ModeItemized:
		b, err := ParseItemized(raw)
		if err != nil {
			return nil, err
		}
		return ItemizedBill{Bill: b}, nil
	default:
		return nil, fmt.Errorf("parsing analysis: unknown mode %s", mode)
	}
}

// ParseSimple extracts one person's share from a simple-mode answer.
//
// The last flat JSON object wins if it carries a numeric splitAmount.
// Otherwise the last dollar figure in the text wins, since narrative answers
// build up to their conclusion.
func ParseSimple(raw string) (decimal.Decimal, error) {
	if amount, ok := structuredSplitAmount(raw); ok {
		return amount, nil
	}
	if amount, ok := narrativeSplitAmount(raw); ok {
		return amount, nil
	}
	return decimal.Zero, ErrNoAmountFound
}

func structuredSplitAmount(raw string) (decimal.Decimal, bool) {
	matches := flatObjectPattern.FindAllString(raw, -1)
	if len(matches) == 0 {
		return decimal.Zero, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(matches[len(matches)-1]), &fields); err != nil {
		slog.Debug("Analysis JSON not decodable, trying narrative format", "error", err)
		return decimal.Zero, false
	}

	value, ok := fields["splitAmount"]
	if !ok || kindOf(value) != kindNumber {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(string(bytes.TrimSpace(value)))
	if err != nil || amount.IsZero() {
		return decimal.Zero, false
	}
	return amount, true
}

func narrativeSplitAmount(raw string) (decimal.Decimal, bool) {
	matches := dollarPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return decimal.Zero, false
	}
	amount := money.ParseAmount(matches[len(matches)-1][1])
	if amount.IsZero() {
		return decimal.Zero, false
	}
	return amount, true
}

// ParseItemized extracts the item list and stated total from an itemized
// answer. Prices and quantities may arrive as numbers or as strings with
// currency noise; anything that does not parse becomes zero.
func ParseItemized(raw string) (bill.Bill, error) {
	match := outerObjectPattern.FindString(raw)
	if match == "" {
		return bill.Bill{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedItemized)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(match), &payload); err != nil {
		return bill.Bill{}, fmt.Errorf("%w: %w", ErrMalformedItemized, err)
	}

	total, ok := payload["totalAmount"]
	if !ok {
		return bill.Bill{}, fmt.Errorf("%w: missing totalAmount", ErrMalformedItemized)
	}
	rawItems, ok := payload["items"]
	if !ok || kindOf(rawItems) != kindArray {
		return bill.Bill{}, fmt.Errorf("%w: missing items array", ErrMalformedItemized)
	}

	var records []map[string]json.RawMessage
	if err := json.Unmarshal(rawItems, &records); err != nil {
		return bill.Bill{}, fmt.Errorf("%w: items: %w", ErrMalformedItemized, err)
	}

	items := make([]bill.Item, 0, len(records))
	for i, record := range records {
		item, err := coerceItem(record)
		if err != nil {
			return bill.Bill{}, fmt.Errorf("%w: item %d: %w", ErrMalformedItemized, i, err)
		}
		items = append(items, item)
	}

	return bill.FromReceipt(items, coerceAmount(total)), nil
}

func coerceItem(record map[string]json.RawMessage) (bill.Item, error) {
	if record == nil {
		return bill.Item{}, errors.New("not an object")
	}
	for _, field := range []string{"name", "price", "quantity"} {
		if _, ok := record[field]; !ok {
			return bill.Item{}, fmt.Errorf("missing %s", field)
		}
	}
	return bill.Item{
		Name:     coerceName(record["name"]),
		Price:    coerceAmount(record["price"]),
		Quantity: coerceQuantity(record["quantity"]),
	}, nil
}

type jsonKind int

const (
	kindInvalid jsonKind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindArray
	kindObject
)

// kindOf looks at the first byte of a JSON value to tell its type.
func kindOf(raw json.RawMessage) jsonKind {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return kindInvalid
	}
	switch c := trimmed[0]; {
	case c == '"':
		return kindString
	case c == '{':
		return kindObject
	case c == '[':
		return kindArray
	case c == 't' || c == 'f':
		return kindBool
	case c == 'n':
		return kindNull
	case c == '-' || (c >= '0' && c <= '9'):
		return kindNumber
	default:
		return kindInvalid
	}
}

func coerceAmount(raw json.RawMessage) decimal.Decimal {
	switch kindOf(raw) {
	case kindNumber:
		d, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
		if err != nil {
			return decimal.Zero
		}
		return d
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
		return money.ParseAmount(s)
	default:
		return decimal.Zero
	}
}

func coerceQuantity(raw json.RawMessage) int {
	switch kindOf(raw) {
	case kindNumber:
		d, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
		if err != nil {
			return 0
		}
		return int(d.IntPart())
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		return money.ParseQuantity(s)
	default:
		return 0
	}
}

func coerceName(raw json.RawMessage) string {
	switch kindOf(raw) {
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case kindNumber:
		return string(bytes.TrimSpace(raw))
	default:
		return ""
	}
}
