// Package pool tracks the ranked model candidates and credential slots a
// gateway may draw from, together with which model/credential pairs have
// reported capacity exhaustion. The pool is pure state: it performs no I/O
// and is safe for concurrent use. Exhaustion marks persist for the lifetime
// of the process; only a restart clears them.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrExhausted is returned when no candidate has any non-exhausted slot left.
var ErrExhausted = errors.New("pool: all model/credential pairs exhausted")

// Candidate is the model/credential pair a gateway should use next.
type Candidate struct {
	Model string
	Slot  int
	Key   string
}

// Pair identifies an exhausted model/credential combination.
type Pair struct {
	Model string
	Slot  int
}

// Pool holds the fallback ranking and the exhaustion set. All methods are
// mutex-guarded; one Pool is shared by every conversation in the process.
type Pool struct {
	mu        sync.Mutex
	models    []string
	keys      []string
	exhausted map[Pair]time.Time
}

// New creates a pool from the ranked model list and the ordered credential
// slots. A non-empty preferred model not already in the list is inserted at
// the head.
func New(models []string, keys []string, preferred string) (*Pool, error) {
	if preferred != "" {
		found := false
		for _, m := range models {
			if m == preferred {
				found = true
				break
			}
		}
		if !found {
			models = append([]string{preferred}, models...)
		}
	}

	if len(models) == 0 {
		return nil, fmt.Errorf("pool: at least one model candidate is required")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("pool: at least one credential slot is required")
	}

	return &Pool{
		models:    append([]string(nil), models...),
		keys:      append([]string(nil), keys...),
		exhausted: make(map[Pair]time.Time),
	}, nil
}

// Current returns the best-ranked non-exhausted pair. Credential slots are
// walked in order for the best candidate before the search degrades to the
// next candidate, so a quota-limited best model keeps serving as long as one
// credential still has capacity for it.
func (p *Pool) Current() (Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, model := range p.models {
		for slot := range p.keys {
			if _, dead := p.exhausted[Pair{Model: model, Slot: slot}]; dead {
				continue
			}
			return Candidate{Model: model, Slot: slot, Key: p.keys[slot]}, nil
		}
	}

	return Candidate{}, ErrExhausted
}

// MarkExhausted idempotently records a capacity-exhausted pair. No current
// pointer is mutated; the next Current call re-derives the best pair.
func (p *Pool) MarkExhausted(model string, slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pair := Pair{Model: model, Slot: slot}
	if _, ok := p.exhausted[pair]; !ok {
		p.exhausted[pair] = time.Now()
	}
}

// Advance marks the current pair exhausted and returns the next candidate.
func (p *Pool) Advance() (Candidate, error) {
	cand, err := p.Current()
	if err != nil {
		return Candidate{}, err
	}
	p.MarkExhausted(cand.Model, cand.Slot)
	return p.Current()
}

// Exhausted returns the exhausted pairs, ordered by model rank then slot,
// for diagnostics.
func (p *Pool) Exhausted() []Pair {
	p.mu.Lock()
	defer p.mu.Unlock()

	rank := make(map[string]int, len(p.models))
	for i, m := range p.models {
		rank[m] = i
	}

	pairs := make([]Pair, 0, len(p.exhausted))
	for pair := range p.exhausted {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if rank[pairs[i].Model] != rank[pairs[j].Model] {
			return rank[pairs[i].Model] < rank[pairs[j].Model]
		}
		return pairs[i].Slot < pairs[j].Slot
	})

	return pairs
}

// ExhaustedCount returns how many pairs are marked exhausted.
func (p *Pool) ExhaustedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exhausted)
}

// Size returns the total number of model/credential pairs.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.models) * len(p.keys)
}

// Models returns the ranked candidate list.
func (p *Pool) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.models...)
}
