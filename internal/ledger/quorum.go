package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/randutil"
)

// QuorumConfig configures a Quorum.
type QuorumConfig struct {
	// Samples is how many distinct ledgers may be consulted per check.
	Samples int
	// Threshold is how many of them must hold the record.
	Threshold int
	// Ledgers are the candidate endpoints.
	Ledgers []Ledger
	// Source draws ledger indexes. Defaults to crypto/rand.
	Source randutil.Source
	Logger logging.Logger
}

// Quorum decides whether a summary hash is corroborated by enough
// independent ledgers, sampling them at random.
type Quorum struct {
	mu        sync.RWMutex
	ledgers   []Ledger
	samples   int
	threshold int
	source    randutil.Source
	logger    logging.Logger
}

// NewQuorum creates a quorum from cfg.
func NewQuorum(cfg QuorumConfig) *Quorum {
	return &Quorum{
		ledgers:   append([]Ledger(nil), cfg.Ledgers...),
		samples:   cfg.Samples,
		threshold: cfg.Threshold,
		source:    randutil.OrDefault(cfg.Source),
		logger:    logging.OrNop(cfg.Logger),
	}
}

// Add appends a ledger endpoint.
func (q *Quorum) Add(l Ledger) *Quorum {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ledgers = append(q.ledgers, l)
	return q
}

// SetSamples sets how many ledgers are consulted per check.
func (q *Quorum) SetSamples(n int) *Quorum {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.samples = n
	return q
}

// SetThreshold sets how many affirmative lookups are required.
func (q *Quorum) SetThreshold(n int) *Quorum {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.threshold = n
	return q
}

// Len returns the number of ledger endpoints. A nil Quorum has none.
func (q *Quorum) Len() int {
	if q == nil {
		return 0
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ledgers)
}

// Ledgers returns a copy of the configured endpoints.
func (q *Quorum) Ledgers() []Ledger {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Ledger(nil), q.ledgers...)
}

// Valid reports whether 1 <= threshold <= samples <= number of ledgers.
func (q *Quorum) Valid() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return validConfig(q.samples, q.threshold, len(q.ledgers))
}

func validConfig(samples, threshold, n int) bool {
	return threshold >= 1 && samples >= 1 && threshold <= samples && samples <= n
}

// ConsensusAgrees reports whether at least threshold of up to samples
// randomly chosen, distinct ledgers hold a record of summaryHash.
//
// Lookup failures of any kind only mean that ledger did not count. An
// invalid configuration, an empty hash, a randomness failure, or running
// past the draw budget of (n+1)^2 all yield false.
func (q *Quorum) ConsensusAgrees(ctx context.Context, summaryHash string) bool {
	q.mu.RLock()
	ledgers := append([]Ledger(nil), q.ledgers...)
	samples, threshold := q.samples, q.threshold
	q.mu.RUnlock()

	n := len(ledgers)
	if !validConfig(samples, threshold, n) {
		q.logger.Warn("quorum configuration invalid", "samples", samples, "threshold", threshold, "ledgers", n)
		return false
	}
	if summaryHash == "" {
		q.logger.Warn("no summary hash to corroborate")
		return false
	}

	maxDraws := (n + 1) * (n + 1)
	draws := 0
	found := 0
	consulted := make([]bool, n)

	for round := 0; round < samples; round++ {
		idx := -1
		for idx < 0 {
			draws++
			if draws > maxDraws {
				q.logger.Error("quorum draw budget exhausted", "draws", draws-1, "budget", maxDraws)
				return false
			}
			i, err := q.source.Intn(n)
			if err != nil {
				q.logger.Error("quorum random draw failed", "err", err)
				return false
			}
			if !consulted[i] {
				idx = i
			}
		}
		consulted[idx] = true

		if ctx.Err() != nil {
			return false
		}

		if _, err := ledgers[idx].Lookup(ctx, summaryHash); err != nil {
			q.logger.Debug("ledger lookup did not corroborate", "ledger", describe(ledgers[idx], idx), "err", err)
		} else {
			found++
			q.logger.Debug("ledger corroborated", "ledger", describe(ledgers[idx], idx), "found", found)
		}

		if found >= threshold {
			return true
		}
	}

	q.logger.Info("quorum not reached", "found", found, "threshold", threshold, "samples", samples)
	return false
}

func describe(l Ledger, idx int) string {
	if s, ok := l.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("#%d", idx)
}
