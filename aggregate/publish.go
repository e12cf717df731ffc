package aggregate

import (
	"git.home.luguber.info/inful/metrix"
)

// Publisher exports the scores of an aggregating sink through a target sink,
// one derived metric per statistic: "<name>.count", ".sum", ".max", ".min"
// for counters and timers, "<name>.count" for markers and "<name>.last" for
// gauges. Target identities are interned across publishes.
//
// A Publisher is not safe for concurrent use; drive it from one goroutine
// (typically a scheduler job).
type Publisher[N any] struct {
	src    *Sink
	target metrix.Sink[N]
	scope  metrix.ScopeFunc[N]
	cache  map[string]N
	reset  bool
}

// NewPublisher wires src to target. When resetScores is true every publish
// zeroes the scoreboards afterwards, making each published value an
// interval reading instead of a running total.
func NewPublisher[N any](src *Sink, target metrix.Sink[N], resetScores bool) *Publisher[N] {
	return &Publisher[N]{
		src:    src,
		target: target,
		scope:  target.NewScope(false),
		cache:  make(map[string]N),
		reset:  resetScores,
	}
}

func (p *Publisher[N]) metric(kind metrix.Kind, name string) N {
	if m, ok := p.cache[name]; ok {
		return m
	}
	m := p.target.NewMetric(kind, name, metrix.DefaultRate)
	p.cache[name] = m
	return m
}

func (p *Publisher[N]) write(kind metrix.Kind, name string, value uint64) {
	p.scope(metrix.WriteCmd(p.metric(kind, name), value))
}

// PublishOnce writes every score with at least one hit through the target,
// flushes the target scope, and returns the number of metrics published.
func (p *Publisher[N]) PublishOnce() int {
	published := 0
	for _, sc := range p.src.Snapshot() {
		if sc.Hits == 0 {
			continue
		}
		switch sc.Kind {
		case metrix.KindMarker:
			p.write(metrix.KindCounter, sc.Name+".count", sc.Hits)
		case metrix.KindGauge:
			p.write(metrix.KindGauge, sc.Name+".last", sc.Last)
		default: // counters and timers share the full statistics set
			p.write(metrix.KindCounter, sc.Name+".count", sc.Hits)
			p.write(metrix.KindCounter, sc.Name+".sum", sc.Sum)
			p.write(sc.Kind, sc.Name+".max", sc.Max)
			p.write(sc.Kind, sc.Name+".min", sc.Min)
		}
		published++
	}
	p.scope(metrix.FlushCmd[N]())
	if p.reset {
		p.src.ResetScores()
	}
	return published
}
