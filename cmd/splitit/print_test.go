package main

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/bill"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/session"
)

func TestSplitit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Splitit Suite")
}

var _ = Describe("printSnapshot", func() {
	var buf bytes.Buffer

	BeforeEach(func() {
		buf.Reset()
	})

	It("prints the per-person amount for a simple split", func() {
		printSnapshot(&buf, session.Snapshot{Outcome: scanning.SimpleSplit{Amount: decimal.RequireFromString("15.165")}})
		Expect(buf.String()).To(Equal("Each person pays: $15.17\n"))
	})

	It("lists items, the total and the split for a bill", func() {
		b := bill.New([]bill.Item{
			{Name: "Burger", Price: decimal.RequireFromString("12"), Quantity: 1},
			{Name: "Fries", Price: decimal.RequireFromString("4"), Quantity: 2},
		})
		per := decimal.RequireFromString("10")
		printSnapshot(&buf, session.Snapshot{Outcome: scanning.ItemizedBill{Bill: b}, NumPeople: 2, PerPerson: &per})

		Expect(buf.String()).To(Equal("Burger: $12.00\nFries x2: $8.00\nTotal: $20.00\nSplit 2 ways: $10.00 each\n"))
	})
})
