package session

import (
	"github.com/zombor/splitit/internal/bill"
)

// edit applies op to the current bill under the lock, so every caller sees
// either the old snapshot or the new one.
func (c *Controller) edit(op func(bill.Bill) (bill.Bill, error)) (bill.Bill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bill == nil {
		return bill.Bill{}, ErrNoBill
	}
	next, err := op(*c.bill)
	if err != nil {
		return *c.bill, err
	}
	c.bill = &next
	return next, nil
}

// Bill returns the current bill, if any.
func (c *Controller) Bill() (bill.Bill, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bill == nil {
		return bill.Bill{}, false
	}
	return *c.bill, true
}

// StartBill replaces the current bill with b, e.g. for manual entry without a photo.
func (c *Controller) StartBill(b bill.Bill) bill.Bill {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bill = &b
	return b
}

func (c *Controller) AddItem() (bill.Bill, error) {
	return c.edit(func(b bill.Bill) (bill.Bill, error) {
		return b.AddItem(), nil
	})
}

func (c *Controller) UpdateItem(index int, field bill.Field, value string) (bill.Bill, error) {
	return c.edit(func(b bill.Bill) (bill.Bill, error) {
		return b.UpdateItem(index, field, value)
	})
}

func (c *Controller) RemoveItem(index int) (bill.Bill, error) {
	return c.edit(func(b bill.Bill) (bill.Bill, error) {
		return b.RemoveItem(index)
	})
}

func (c *Controller) SetTotalOverride(value string) (bill.Bill, error) {
	return c.edit(func(b bill.Bill) (bill.Bill, error) {
		return b.SetTotalOverride(value), nil
	})
}

func (c *Controller) ResetTotal() (bill.Bill, error) {
	return c.edit(func(b bill.Bill) (bill.Bill, error) {
		return b.ResetTotal(), nil
	})
}

// NumPeople returns the "split between" count.
func (c *Controller) NumPeople() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.people.Value()
}

// IncrementPeople adds one person to the split.
func (c *Controller) IncrementPeople() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.people.Increment()
}

// DecrementPeople removes one person; the count never drops below 1.
func (c *Controller) DecrementPeople() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.people.Decrement()
}
