// Package probe runs ordered fallback strategies for UI lookups. Every
// lookup a provider performs is a Chain configured once, so drift in the UI
// is absorbed by adding a strategy rather than by editing call sites.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch is returned when no strategy resolved.
var ErrNoMatch = errors.New("no strategy matched")

// Func is one strategy. ok=false means "not found here, try the next one";
// an error aborts the chain.
type Func[T any] func(ctx context.Context) (value T, ok bool, err error)

// Strategy is a named lookup step.
type Strategy[T any] struct {
	Name string
	Fn   Func[T]
}

// Chain is an ordered list of strategies.
type Chain[T any] struct {
	name       string
	strategies []Strategy[T]
}

// NewChain returns an empty chain. name appears in errors.
func NewChain[T any](name string) *Chain[T] {
	return &Chain[T]{name: name}
}

// Add appends a strategy and returns the chain for chaining.
func (c *Chain[T]) Add(name string, fn Func[T]) *Chain[T] {
	c.strategies = append(c.strategies, Strategy[T]{Name: name, Fn: fn})
	return c
}

// Len returns the number of strategies.
func (c *Chain[T]) Len() int { return len(c.strategies) }

// Names lists the strategies in order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

// Run tries each strategy in order and returns the first hit with the name of
// the strategy that produced it.
func (c *Chain[T]) Run(ctx context.Context) (T, string, error) {
	var zero T
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, ok, err := s.Fn(ctx)
		if err != nil {
			return zero, s.Name, fmt.Errorf("%s/%s: %w", c.name, s.Name, err)
		}
		if ok {
			return v, s.Name, nil
		}
	}
	return zero, "", fmt.Errorf("%s [%s]: %w", c.name, strings.Join(c.Names(), ","), ErrNoMatch)
}
