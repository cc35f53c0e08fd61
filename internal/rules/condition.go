package rules

import (
	"fmt"
	"math"

	"github.com/roach88/sovereign/internal/record"
)

// Condition is a predicate over a record payload. String renders it for
// operators.
type Condition interface {
	Eval(p record.Payload) bool
	String() string
}

// MinLen holds when the array, object or string at Key has at least Min
// elements. A missing key has length zero.
type MinLen struct {
	Key string
	Min int
}

func (c MinLen) Eval(p record.Payload) bool {
	return p.Len(c.Key) >= c.Min
}

func (c MinLen) String() string {
	return fmt.Sprintf("len(%s) >= %d", c.Key, c.Min)
}

// GreaterThan holds when the number at Key exceeds Limit. With Abs the
// magnitude is compared. A missing or non-numeric value counts as zero.
type GreaterThan struct {
	Key   string
	Limit float64
	Abs   bool
}

func (c GreaterThan) Eval(p record.Payload) bool {
	n := p.NumberOr(c.Key, 0)
	if c.Abs {
		n = math.Abs(n)
	}
	return n > c.Limit
}

func (c GreaterThan) String() string {
	if c.Abs {
		return fmt.Sprintf("abs(%s) > %g", c.Key, c.Limit)
	}
	return fmt.Sprintf("%s > %g", c.Key, c.Limit)
}

// Equals holds when the string at Key equals Value.
type Equals struct {
	Key   string
	Value string
}

func (c Equals) Eval(p record.Payload) bool {
	s, ok := p.String(c.Key)
	return ok && s == c.Value
}

func (c Equals) String() string {
	return fmt.Sprintf("%s == %q", c.Key, c.Value)
}

// Func adapts a function into a Condition. Desc is what String reports.
type Func struct {
	Desc string
	Fn   func(record.Payload) bool
}

func (c Func) Eval(p record.Payload) bool {
	return c.Fn != nil && c.Fn(p)
}

func (c Func) String() string {
	return c.Desc
}
