// Package cursor tracks the inspected step of a trace and maps steps to
// displayable source locations.
package cursor

import "github.com/ctagard/trace-mcp/internal/errors"

// Cursor is the current inspection point of a session.
type Cursor struct {
	current int
	length  int
}

// New returns a cursor at step 0 over a trace of length steps.
func New(length int) *Cursor {
	return &Cursor{length: length}
}

// Current returns the step under inspection.
func (c *Cursor) Current() int {
	return c.current
}

// Length returns the trace length.
func (c *Cursor) Length() int {
	return c.length
}

// Check fails with OutOfRange unless 0 <= step < Length.
func (c *Cursor) Check(step int) error {
	if step < 0 || step >= c.length {
		return errors.OutOfRange(step, c.length)
	}
	return nil
}

// JumpTo moves the cursor. On error the cursor is left where it was.
func (c *Cursor) JumpTo(step int) error {
	if err := c.Check(step); err != nil {
		return err
	}
	c.current = step
	return nil
}
