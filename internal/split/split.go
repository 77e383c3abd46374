// Package split divides a bill total between people.
package split

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultPeople is the person count a new split starts with.
const DefaultPeople = 2

// Split returns one person's share of total. The result is not rounded;
// round it with money.Format when displaying it.
//
// numPeople must be at least 1. Callers clamp it with a Counter.
func Split(total decimal.Decimal, numPeople int) decimal.Decimal {
	if numPeople < 1 {
		panic(fmt.Sprintf("split: numPeople must be >= 1, got %d", numPeople))
	}
	return total.Div(decimal.NewFromInt(int64(numPeople)))
}

// Counter is the "split between" person count. It never drops below 1.
type Counter struct {
	n int
}

// NewCounter returns a Counter starting at DefaultPeople.
func NewCounter() *Counter {
	return &Counter{n: DefaultPeople}
}

// Value returns the current count.
func (c *Counter) Value() int {
	return c.n
}

// Increment adds one person.
func (c *Counter) Increment() int {
	c.n++
	return c.n
}

// Decrement removes one person unless only one is left.
func (c *Counter) Decrement() int {
	if c.n > 1 {
		c.n--
	}
	return c.n
}

// Set assigns the count, clamping anything below 1 to 1.
func (c *Counter) Set(n int) int {
	c.n = Clamp(n)
	return c.n
}

// Clamp returns n, or 1 if n is smaller.
func Clamp(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
