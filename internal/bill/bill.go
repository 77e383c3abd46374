// Package bill is the in-memory bill model and its recalculation engine.
//
// A Bill is a value. Every edit returns a new snapshot and leaves the
// receiver untouched, so a caller holding the previous snapshot never sees a
// half-applied edit.
package bill

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/money"
)

var (
	// ErrIndexOutOfRange is returned when an edit names an item that does not exist.
	ErrIndexOutOfRange = errors.New("item index out of range")
	// ErrUnknownField is returned by UpdateItem for fields other than name, price and quantity.
	ErrUnknownField = errors.New("unknown item field")
)

// Field names an editable item attribute.
type Field string

const (
	FieldName     Field = "name"
	FieldPrice    Field = "price"
	FieldQuantity Field = "quantity"
)

// Item is one line of a bill. Its identity is its position in the bill.
type Item struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// LineTotal is price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Bill is an ordered list of items plus a total.
//
// In TotalAuto mode Total always equals the sum of the line totals. In
// TotalOverride mode Total holds a figure stated by the user or printed on
// the receipt; the next item edit recomputes it and switches back to auto.
type Bill struct {
	Items     []Item          `json:"items"`
	Total     decimal.Decimal `json:"total"`
	TotalMode TotalMode       `json:"total_mode"`
}

// New builds an auto-mode bill from items.
func New(items []Item) Bill {
	return Bill{Items: cloneItems(items)}.RecomputeTotal()
}

// FromReceipt builds a bill whose total is the one stated on the receipt.
// The bill is in override mode unless the stated total matches the items.
func FromReceipt(items []Item, stated decimal.Decimal) Bill {
	b := New(items)
	if b.Total.Equal(stated) {
		return b
	}
	b.Total = stated
	b.TotalMode = TotalOverride
	return b
}

// Subtotal is the sum of all line totals regardless of the total mode.
func (b Bill) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range b.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// RecomputeTotal sets Total from the items and switches to auto mode.
// Calling it twice in a row yields the same bill.
func (b Bill) RecomputeTotal() Bill {
	return Bill{
		Items:     b.Items,
		Total:     b.Subtotal(),
		TotalMode: TotalAuto,
	}
}

// AddItem appends an empty item with quantity 1.
func (b Bill) AddItem() Bill {
	items := append(cloneItems(b.Items), Item{Name: "", Price: decimal.Zero, Quantity: 1})
	return Bill{Items: items}.RecomputeTotal()
}

// UpdateItem replaces one field of the item at index with the parsed value.
// Price and quantity text that does not parse becomes zero.
func (b Bill) UpdateItem(index int, field Field, value string) (Bill, error) {
	if err := b.checkIndex(index); err != nil {
		return b, err
	}

	items := cloneItems(b.Items)
	item := items[index]
	switch field {
	case FieldName:
		item.Name = value
	case FieldPrice:
		item.Price = money.ParseAmount(value)
	case FieldQuantity:
		item.Quantity = money.ParseQuantity(value)
	default:
		return b, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	items[index] = item

	return Bill{Items: items}.RecomputeTotal(), nil
}

// RemoveItem deletes the item at index. Later items shift down by one.
func (b Bill) RemoveItem(index int) (Bill, error) {
	if err := b.checkIndex(index); err != nil {
		return b, err
	}

	items := make([]Item, 0, len(b.Items)-1)
	items = append(items, b.Items[:index]...)
	items = append(items, b.Items[index+1:]...)

	return Bill{Items: items}.RecomputeTotal(), nil
}

// SetTotalOverride replaces the total with the parsed value without touching
// the items.
func (b Bill) SetTotalOverride(value string) Bill {
	return Bill{
		Items:     cloneItems(b.Items),
		Total:     money.ParseAmount(value),
		TotalMode: TotalOverride,
	}
}

// ResetTotal drops a manual override and goes back to the computed total.
func (b Bill) ResetTotal() Bill {
	return Bill{Items: cloneItems(b.Items)}.RecomputeTotal()
}

// Overridden reports whether the total was set by hand.
func (b Bill) Overridden() bool {
	return b.TotalMode == TotalOverride
}

func (b Bill) checkIndex(index int) error {
	if index < 0 || index >= len(b.Items) {
		return fmt.Errorf("%w: %d (bill has %d items)", ErrIndexOutOfRange, index, len(b.Items))
	}
	return nil
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
