// Package release holds the data passed between the stages of the update
// pipeline: mirror candidates and downloaded artifacts.
package release

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Candidate is one entry of a mirror's update list.
type Candidate struct {
	URL       string    `json:"url"`
	Version   string    `json:"version"`
	Created   time.Time `json:"created"`
	Channel   string    `json:"channel,omitempty"`
	Publisher string    `json:"publisher,omitempty"`
	Project   string    `json:"project,omitempty"`
}

// UnmarshalJSON decodes a candidate. Created is informational, so any
// timestamp format a mirror sends is accepted and an unreadable one
// leaves it zero instead of failing the whole list.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	type plain Candidate
	var raw struct {
		plain
		Created json.RawMessage `json:"created"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Candidate(raw.plain)
	c.Created = parseTimestamp(raw.Created)
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// parseTimestamp reads a JSON string in one of timestampLayouts or a
// number of unix seconds. Numbers too large to be seconds are taken as
// milliseconds.
func parseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}
		}
		text = strings.TrimSpace(text)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t.UTC()
			}
		}
	}

	secs, err := strconv.ParseFloat(text, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	if secs > 1e11 {
		secs /= 1000
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
}

// UpdateList is the set of candidates offered by a single mirror.
// Updates keeps the mirror's order; the first entry is the preferred one.
type UpdateList struct {
	Mirror  string
	Updates []Candidate
}

// Len returns the number of candidates.
func (l *UpdateList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Updates)
}

// Artifact is a downloaded release and the authenticity metadata that came
// with it. It starts unverified; the outcome of verification is recorded
// once and never changes afterwards.
type Artifact struct {
	LocalPath   string
	Signature   []byte
	PublicKeyID string
	// SummaryHash is empty when the mirror did not supply one.
	SummaryHash string

	mu       sync.Mutex
	verified bool
	settled  bool
}

// Verified reports whether the artifact passed signature verification.
func (a *Artifact) Verified() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verified
}

// Settled reports whether a verification outcome has been recorded.
func (a *Artifact) Settled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}

// SetVerified records the verification outcome. Only the first call has an
// effect; the recorded outcome is returned either way.
func (a *Artifact) SetVerified(ok bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.settled {
		a.verified = ok
		a.settled = true
	}
	return a.verified
}

// Remove deletes the artifact's temporary file. Missing files are not an error.
func (a *Artifact) Remove() error {
	if a == nil || a.LocalPath == "" {
		return nil
	}
	if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
