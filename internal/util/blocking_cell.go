package util

import (
	"context"
	"errors"
	"time"
)

// BlockingCell is a one-shot blocking container for a value
type BlockingCell struct {
	valueChan chan interface{}
	set       bool
}

// NewBlockingCell creates a new blocking cell
func NewBlockingCell() *BlockingCell {
	return &BlockingCell{
		valueChan: make(chan interface{}, 1),
	}
}

// Set sets the value in the cell
func (c *BlockingCell) Set(value interface{}) error {
	if c.set {
		return errors.New("cell already set")
	}
	c.set = true
	c.valueChan <- value
	return nil
}

// Get gets the value from the cell, blocking if not yet set
func (c *BlockingCell) Get() interface{} {
	return <-c.valueChan
}

// GetWithTimeout gets the value with a timeout
func (c *BlockingCell) GetWithTimeout(timeout time.Duration) (interface{}, error) {
	select {
	case value := <-c.valueChan:
		return value, nil
	case <-time.After(timeout):
		return nil, errors.New("timeout")
	}
}

// GetWithContext gets the value with a context
func (c *BlockingCell) GetWithContext(ctx context.Context) (interface{}, error) {
	select {
	case value := <-c.valueChan:
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
