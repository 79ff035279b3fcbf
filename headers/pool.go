// Package headers supplies randomized browser identities for outbound
// requests.
package headers

import (
	"errors"
	"maps"
	"math/rand"
)

// ErrEmptyPool is returned by Next when no header sets were loaded.
var ErrEmptyPool = errors.New("headers: pool is empty")

// HeaderSet is a coordinated group of browser header values.
type HeaderSet map[string]string

// Pool is an immutable collection of header sets, safe for concurrent use.
type Pool struct {
	sets []HeaderSet
	pick func(n int) int
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPicker replaces the uniform random index source. pick must return a
// value in [0, n).
func WithPicker(pick func(n int) int) PoolOption {
	return func(p *Pool) {
		p.pick = pick
	}
}

// NewPool copies sets into a new Pool. Empty sets are dropped.
func NewPool(sets []HeaderSet, opts ...PoolOption) *Pool {
	p := &Pool{pick: rand.Intn}
	for _, set := range sets {
		if len(set) == 0 {
			continue
		}
		p.sets = append(p.sets, maps.Clone(set))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Len returns the number of header sets.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.sets)
}

// Next returns a copy of one header set chosen at random.
func (p *Pool) Next() (HeaderSet, error) {
	if p.Len() == 0 {
		return nil, ErrEmptyPool
	}
	return maps.Clone(p.sets[p.pick(len(p.sets))]), nil
}
