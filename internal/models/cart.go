package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the in-progress sale of an account. It holds lines in insertion
// order and never touches storage itself.
type Cart struct {
	Account AccountID
	lines   []CartLine
}

// NewCart builds a cart from previously stored lines.
func NewCart(account AccountID, lines []CartLine) *Cart {
	c := &Cart{Account: account}
	c.lines = append(c.lines, lines...)
	return c
}

// AddLine appends a line with no stock check.
func (c *Cart) AddLine(name string, price decimal.Decimal) CartLine {
	return c.add(CartLine{Name: name, Price: price})
}

// AddProductLine appends a line bound to the product id.
func (c *Cart) AddProductLine(p *Product) CartLine {
	return c.add(CartLine{ProductID: p.ID, Name: p.Name, Price: p.Price})
}

func (c *Cart) add(line CartLine) CartLine {
	line.ID = NewID()
	line.AccountID = c.Account
	line.AddedAt = time.Now().UTC()
	c.lines = append(c.lines, line)
	return line
}

// RemoveLine deletes the line with the given id and reports whether it existed.
func (c *Cart) RemoveLine(lineID string) bool {
	for i, l := range c.lines {
		if l.ID == lineID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return true
		}
	}
	return false
}

// Total returns the sum of all line prices.
func (c *Cart) Total() decimal.Decimal {
	return SumLines(c.lines)
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) Clear() { c.lines = nil }
