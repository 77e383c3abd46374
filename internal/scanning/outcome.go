package scanning

import (
	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/bill"
)

// Outcome is the parsed result of one analysis. It is either a SimpleSplit
// or an ItemizedBill.
type Outcome interface {
	Mode() Mode
}

// SimpleSplit is one person's share as reported by the analysis service.
type SimpleSplit struct {
	Amount decimal.Decimal `json:"amount"`
}

// Mode implements Outcome.
func (SimpleSplit) Mode() Mode { return ModeSimple }

// ItemizedBill is the full bill read off the receipt.
type ItemizedBill struct {
	Bill bill.Bill `json:"bill"`
}

// Mode implements Outcome.
func (ItemizedBill) Mode() Mode { return ModeItemized }
