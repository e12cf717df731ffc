// Package aggregate keeps in-process statistics for each metric and can
// publish derived values through any other sink. It is the backend of choice
// for daemons that collect locally and export on an interval.
package aggregate

import (
	"math"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/metrix"
)

// Scoreboard is the identity issued by the aggregating sink: a fixed set of
// atomic counters updated on every write. All methods are safe for
// concurrent use.
type Scoreboard struct {
	kind metrix.Kind
	name string

	hits atomic.Uint64
	sum  atomic.Uint64
	max  atomic.Uint64
	min  atomic.Uint64
	last atomic.Uint64
}

func newScoreboard(kind metrix.Kind, name string) *Scoreboard {
	b := &Scoreboard{kind: kind, name: name}
	b.min.Store(math.MaxUint64)
	return b
}

func (b *Scoreboard) update(v uint64) {
	b.hits.Add(1)
	b.sum.Add(v)
	b.last.Store(v)
	for {
		cur := b.max.Load()
		if v <= cur || b.max.CompareAndSwap(cur, v) {
			break
		}
	}
	for {
		cur := b.min.Load()
		if v >= cur || b.min.CompareAndSwap(cur, v) {
			break
		}
	}
}

func (b *Scoreboard) reset() {
	b.hits.Store(0)
	b.sum.Store(0)
	b.max.Store(0)
	b.min.Store(math.MaxUint64)
	b.last.Store(0)
}

// Score is a point-in-time reading of one scoreboard. Min and Max are zero
// when Hits is zero.
type Score struct {
	Kind metrix.Kind
	Name string
	Hits uint64
	Sum  uint64
	Max  uint64
	Min  uint64
	Last uint64
}

func (b *Scoreboard) score() Score {
	s := Score{
		Kind: b.kind,
		Name: b.name,
		Hits: b.hits.Load(),
		Sum:  b.sum.Load(),
		Max:  b.max.Load(),
		Min:  b.min.Load(),
		Last: b.last.Load(),
	}
	if s.Hits == 0 {
		s.Min = 0
		s.Max = 0
	}
	return s
}

// Sink aggregates writes into per-metric scoreboards. Identities are
// interned: requesting the same (kind, name) twice returns the same
// scoreboard, so concurrent call sites accumulate into one set of scores.
type Sink struct {
	mu     sync.Mutex
	boards []*Scoreboard
	byKey  map[string]*Scoreboard
}

// New builds an empty aggregating sink.
func New() *Sink {
	return &Sink{byKey: make(map[string]*Scoreboard)}
}

func (s *Sink) NewMetric(kind metrix.Kind, name string, rate float64) *Scoreboard {
	key := kind.String() + ":" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byKey[key]; ok {
		return b
	}
	b := newScoreboard(kind, name)
	s.byKey[key] = b
	s.boards = append(s.boards, b)
	return b
}

func (s *Sink) NewScope(autoFlush bool) metrix.ScopeFunc[*Scoreboard] {
	// Scores are readable at any time, so flush has nothing to do and
	// autoFlush changes nothing.
	return func(cmd metrix.Command[*Scoreboard]) {
		if b, v, ok := cmd.Write(); ok {
			b.update(v)
		}
	}
}

// Snapshot returns a point-in-time reading of every scoreboard in creation
// order. It does not reset the scores.
func (s *Sink) Snapshot() []Score {
	s.mu.Lock()
	boards := make([]*Scoreboard, len(s.boards))
	copy(boards, s.boards)
	s.mu.Unlock()

	scores := make([]Score, len(boards))
	for i, b := range boards {
		scores[i] = b.score()
	}
	return scores
}

// ResetScores zeroes every scoreboard. Writes racing with the reset may land
// on either side of it; for metrics that is acceptable.
func (s *Sink) ResetScores() {
	s.mu.Lock()
	boards := make([]*Scoreboard, len(s.boards))
	copy(boards, s.boards)
	s.mu.Unlock()

	for _, b := range boards {
		b.reset()
	}
}
