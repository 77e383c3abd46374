package main

import (
	"fmt"
	"io"

	"github.com/zombor/splitit/internal/money"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/session"
)

// printSnapshot writes a human-readable summary of an analysis.
func printSnapshot(w io.Writer, snap session.Snapshot) {
	switch o := snap.Outcome.(type) {
	case scanning.SimpleSplit:
		fmt.Fprintf(w, "Each person pays: %s\n", money.Format(o.Amount))
	case scanning.ItemizedBill:
		for _, item := range o.Bill.Items {
			if item.Quantity > 1 {
				fmt.Fprintf(w, "%s x%d: %s\n", item.Name, item.Quantity, money.Format(item.LineTotal()))
			} else {
				fmt.Fprintf(w, "%s: %s\n", item.Name, money.Format(item.Price))
			}
		}
		fmt.Fprintf(w, "Total: %s\n", money.Format(o.Bill.Total))
		if snap.PerPerson != nil {
			fmt.Fprintf(w, "Split %d ways: %s each\n", snap.NumPeople, money.Format(*snap.PerPerson))
		}
	}
}
