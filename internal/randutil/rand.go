// Package randutil provides unbiased random index draws backed by strong
// cryptographic randomness.
package randutil

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrEmptyRange is returned when asked to draw from an empty range.
var ErrEmptyRange = errors.New("randutil: empty range")

// Source draws a uniformly distributed index in [0, n).
type Source interface {
	Intn(n int) (int, error)
}

type cryptoSource struct{}

func (cryptoSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, ErrEmptyRange
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read cryptographic randomness: %w", err)
	}
	return int(v.Int64()), nil
}

var defaultSource = sync.OnceValue(func() Source {
	return cryptoSource{}
})

// Default returns the process-wide crypto/rand backed source.
func Default() Source {
	return defaultSource()
}

// OrDefault returns s, or the default source when s is nil.
func OrDefault(s Source) Source {
	if s == nil {
		return Default()
	}
	return s
}

// Sequence replays a fixed list of draws, for deterministic tests.
// Each value is reduced modulo n. Once exhausted it returns an error.
type Sequence struct {
	mu     sync.Mutex
	Values []int
	pos    int
}

// Intn returns the next value in the sequence.
func (s *Sequence) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, ErrEmptyRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.Values) {
		return 0, errors.New("randutil: sequence exhausted")
	}
	v := s.Values[s.pos] % n
	s.pos++
	return v, nil
}

// Draws returns how many values have been consumed.
func (s *Sequence) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
