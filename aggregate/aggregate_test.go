package aggregate_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/metrix"
	"git.home.luguber.info/inful/metrix/aggregate"
	"git.home.luguber.info/inful/metrix/sinktest"
)

func TestAggregate_CounterStatistics(t *testing.T) {
	sink := aggregate.New()
	app := metrix.New(sink)

	c := app.Counter("bytes")
	require.NoError(t, c.Count(10))
	require.NoError(t, c.Count(30))
	require.NoError(t, c.Count(20))

	scores := sink.Snapshot()
	require.Len(t, scores, 1)
	sc := scores[0]
	require.Equal(t, "bytes", sc.Name)
	require.Equal(t, metrix.KindCounter, sc.Kind)
	require.Equal(t, uint64(3), sc.Hits)
	require.Equal(t, uint64(60), sc.Sum)
	require.Equal(t, uint64(30), sc.Max)
	require.Equal(t, uint64(10), sc.Min)
	require.Equal(t, uint64(20), sc.Last)
}

func TestAggregate_EmptyScoreboardReportsZeroBounds(t *testing.T) {
	sink := aggregate.New()
	metrix.New(sink).Counter("unused")

	scores := sink.Snapshot()
	require.Len(t, scores, 1)
	require.Zero(t, scores[0].Hits)
	require.Zero(t, scores[0].Min)
	require.Zero(t, scores[0].Max)
}

func TestAggregate_InternsSameKindAndName(t *testing.T) {
	sink := aggregate.New()
	app := metrix.New(sink)

	a := app.Counter("n")
	b := app.Counter("n")
	require.NoError(t, a.Count(1))
	require.NoError(t, b.Count(2))

	scores := sink.Snapshot()
	require.Len(t, scores, 1)
	require.Equal(t, uint64(3), scores[0].Sum)

	// Same name under a different kind is a distinct scoreboard.
	require.NoError(t, app.Gauge("n").Value(9))
	require.Len(t, sink.Snapshot(), 2)
}

func TestAggregate_ConcurrentWrites(t *testing.T) {
	sink := aggregate.New()
	c := metrix.New(sink).Counter("n")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = c.Count(1)
			}
		}()
	}
	wg.Wait()

	scores := sink.Snapshot()
	require.Equal(t, uint64(8000), scores[0].Hits)
	require.Equal(t, uint64(8000), scores[0].Sum)
}

func TestAggregate_ResetScores(t *testing.T) {
	sink := aggregate.New()
	c := metrix.New(sink).Counter("n")
	require.NoError(t, c.Count(5))

	sink.ResetScores()

	sc := sink.Snapshot()[0]
	require.Zero(t, sc.Hits)
	require.Zero(t, sc.Sum)
	require.Zero(t, sc.Min)

	// The scoreboard keeps aggregating after a reset.
	require.NoError(t, c.Count(2))
	require.Equal(t, uint64(2), sink.Snapshot()[0].Sum)
}

func TestPublisher_DerivedMetricsPerKind(t *testing.T) {
	src := aggregate.New()
	app := metrix.New(src).WithPrefix("app.")

	app.Marker("events").Mark()
	require.NoError(t, app.Counter("bytes").Count(10))
	require.NoError(t, app.Gauge("depth").Value(4))
	_, err := app.Timer("latency").IntervalUs(2000)
	require.NoError(t, err)

	target := sinktest.New()
	pub := aggregate.NewPublisher[string](src, target, false)

	require.Equal(t, 4, pub.PublishOnce())

	byName := map[string]uint64{}
	for _, w := range target.Writes() {
		byName[w.Name] = w.Value
	}
	require.Equal(t, uint64(1), byName["app.events.count"])
	require.Equal(t, uint64(1), byName["app.bytes.count"])
	require.Equal(t, uint64(10), byName["app.bytes.sum"])
	require.Equal(t, uint64(10), byName["app.bytes.max"])
	require.Equal(t, uint64(10), byName["app.bytes.min"])
	require.Equal(t, uint64(4), byName["app.depth.last"])
	require.Equal(t, uint64(2000), byName["app.latency.sum"])
	require.Equal(t, 1, target.Flushes())
}

func TestPublisher_SkipsSilentMetricsAndInternsTargets(t *testing.T) {
	src := aggregate.New()
	app := metrix.New(src)
	c := app.Counter("busy")
	app.Counter("silent")

	target := sinktest.New()
	pub := aggregate.NewPublisher[string](src, target, false)

	require.NoError(t, c.Count(1))
	require.Equal(t, 1, pub.PublishOnce())
	require.NoError(t, c.Count(1))
	require.Equal(t, 1, pub.PublishOnce())

	// Two publishes reuse the same target identities.
	require.Len(t, target.Requests(), 4)
}

func TestPublisher_ResetMakesIntervalReadings(t *testing.T) {
	src := aggregate.New()
	c := metrix.New(src).Counter("n")

	target := sinktest.New()
	pub := aggregate.NewPublisher[string](src, target, true)

	require.NoError(t, c.Count(5))
	pub.PublishOnce()

	// After the reset the score is empty, so nothing publishes.
	require.Equal(t, 0, pub.PublishOnce())
}
