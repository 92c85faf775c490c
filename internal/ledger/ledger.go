// Package ledger implements the shared context of an orchestration run: an
// append-only, ordered log of contributions.
package ledger

import (
	"sync"
	"time"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Filter selects contributions for a view.
type Filter func(models.Contribution) bool

// Ledger is the append-only shared context of one run.
// Appends are serialized; views return copies.
type Ledger struct {
	mu      sync.RWMutex
	entries []models.Contribution
	seen    map[string]int // normalized agent payload -> first seq
	now     func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		seen: make(map[string]int),
		now:  time.Now,
	}
}

// Append assigns the next sequence number and timestamp to c and stores it.
// The stored contribution is returned.
func (l *Ledger) Append(c models.Contribution) models.Contribution {
	l.mu.Lock()
	defer l.mu.Unlock()

	c.Seq = len(l.entries) + 1
	if c.Timestamp.IsZero() {
		c.Timestamp = l.now()
	}
	if c.Status == "" {
		c.Status = models.StatusSuccess
	}
	l.entries = append(l.entries, c)

	if c.IsAgent() && c.Status != models.StatusError {
		key := c.Normalized()
		if _, ok := l.seen[key]; !ok && key != "" {
			l.seen[key] = c.Seq
		}
	}
	return c
}

// View returns the contributions that pass every filter, in sequence order.
func (l *Ledger) View(filters ...Filter) []models.Contribution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Contribution, 0, len(l.entries))
outer:
	for _, c := range l.entries {
		for _, f := range filters {
			if !f(c) {
				continue outer
			}
		}
		out = append(out, c)
	}
	return out
}

// Len returns the number of appended contributions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent contribution passing the filters.
func (l *Ledger) Last(filters ...Filter) (models.Contribution, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

outer:
	for i := len(l.entries) - 1; i >= 0; i-- {
		for _, f := range filters {
			if !f(l.entries[i]) {
				continue outer
			}
		}
		return l.entries[i], true
	}
	return models.Contribution{}, false
}

// FirstSeen returns the sequence of the first non-error agent contribution
// with the same normalized payload as c, or 0.
func (l *Ledger) FirstSeen(c models.Contribution) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seen[c.Normalized()]
}

// ByKind matches contributions of any of the given kinds.
func ByKind(kinds ...models.ContributionKind) Filter {
	return func(c models.Contribution) bool {
		for _, k := range kinds {
			if c.Kind == k {
				return true
			}
		}
		return false
	}
}

// ByStatus matches contributions with the given status.
func ByStatus(status models.ContributionStatus) Filter {
	return func(c models.Contribution) bool { return c.Status == status }
}

// ByProducer matches contributions from the named producer.
func ByProducer(name string) Filter {
	return func(c models.Contribution) bool { return c.Producer == name }
}

// ForSubGoal matches contributions addressing the given sub-goal.
func ForSubGoal(id string) Filter {
	return func(c models.Contribution) bool { return c.SubGoalID == id }
}

// Since matches contributions with a sequence greater than seq.
func Since(seq int) Filter {
	return func(c models.Contribution) bool { return c.Seq > seq }
}
