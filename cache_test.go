package s3fifo

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	cfg.BasePath = filepath.Join(t.TempDir(), "cache")
	c, err := New(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConfigValidation(t *testing.T) {
	base := func(t *testing.T) Config {
		return Config{
			BasePath:   filepath.Join(t.TempDir(), "cache"),
			TotalSize:  10,
			SmallRatio: 0.1,
			GhostRatio: 0.1,
		}
	}

	t.Run("empty base path", func(t *testing.T) {
		cfg := base(t)
		cfg.BasePath = ""
		_, err := New(&cfg)
		require.Error(t, err)
	})
	t.Run("zero total size", func(t *testing.T) {
		cfg := base(t)
		cfg.TotalSize = 0
		_, err := New(&cfg)
		require.Error(t, err)
	})
	t.Run("small ratio too high", func(t *testing.T) {
		cfg := base(t)
		cfg.SmallRatio = 1
		_, err := New(&cfg)
		require.Error(t, err)
	})
	t.Run("ghost ratio too high", func(t *testing.T) {
		cfg := base(t)
		cfg.GhostRatio = 1.5
		_, err := New(&cfg)
		require.Error(t, err)
	})
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
	})
}

// Capacity split so Small holds 1 item, Main holds 9. PromotionProbability
// is forced to 1 so a repeated hit on A always promotes, making the trace
// deterministic.
func TestPaperExampleTrace(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 10, SmallRatio: 0.1, GhostRatio: 0.1, AverageValueSize: 1})
	c.policy.promotionProbability = 1.0

	require.NoError(t, c.Put([]byte("A"), []byte("vA")))
	require.NoError(t, c.Put([]byte("B"), []byte("vB")))

	_, ok, err := c.Get([]byte("A"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = c.Get([]byte("A")) // second hit: count now 2, promotes to Small
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Put([]byte("C"), []byte("vC")))
	for _, k := range []string{"D", "E", "F", "G", "H", "I", "J", "K"} {
		require.NoError(t, c.Put([]byte(k), []byte("v"+k)))
	}

	v, ok, err := c.Get([]byte("K"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("vK"), v)

	require.True(t, c.small.Contains([]byte("A")))
	require.GreaterOrEqual(t, c.policy.tracker.count(Key("A")), int64(2))

	require.True(t, c.ghost.Contains([]byte("B")), "B should have been cascaded out of main into ghost")
	require.False(t, c.main.Contains([]byte("B")))
}

// A, B, C earn repeated hits and graduate into Small; a burst of cold
// one-time keys then floods Main and Ghost without disturbing them.
func TestScanResistance(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 8, SmallRatio: 0.375, GhostRatio: 0.25, AverageValueSize: 1})
	c.policy.promotionProbability = 1.0

	for _, k := range []string{"A", "B", "C"} {
		require.NoError(t, c.Put([]byte(k), []byte("v"+k)))
	}
	// First hit: count 1, never promotes (MinAccessCount).
	for _, k := range []string{"A", "B", "C"} {
		_, ok, err := c.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	// Second hit: count 2, promotes into Small under PromotionProbability=1.
	for _, k := range []string{"A", "B", "C"} {
		_, ok, err := c.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, k := range []string{"A", "B", "C"} {
		require.True(t, c.small.Contains([]byte(k)), "%s should have graduated to small", k)
	}
	// Third hit, now resident in Small: count reaches 3.
	for _, k := range []string{"A", "B", "C"} {
		_, ok, err := c.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.GreaterOrEqual(t, c.policy.tracker.count(Key(k)), int64(3))
	}

	for i := 1; i <= 20; i++ {
		x := []byte(fmt.Sprintf("X%d", i))
		require.NoError(t, c.Put(x, x))
	}

	for _, k := range []string{"A", "B", "C"} {
		v, ok, err := c.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, ok, "%s should have survived the scan", k)
		require.Equal(t, []byte("v"+k), v)
	}

	// X1 was the very first cold insert and the longest-resident cold
	// item in Main; it must have been cascaded out long before X20 landed.
	require.False(t, c.main.Contains([]byte("X1")))
	require.Equal(t, int64(0), c.policy.tracker.count(Key("X1")))
}

// With promotion probability pinned to 0, only a ghost hit can move a key
// from Main into Small.
func TestGhostHitPromotesWithZeroProbability(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 4, SmallRatio: 0.25, GhostRatio: 0.5, AverageValueSize: 1})
	c.policy.promotionProbability = 0

	require.NoError(t, c.Put([]byte("X"), []byte("v1")))
	// Push three more cold keys through Main to cascade X out into Ghost.
	for _, k := range []string{"p1", "p2", "p3"} {
		require.NoError(t, c.Put([]byte(k), []byte(k)))
	}
	require.True(t, c.ghost.Contains([]byte("X")), "X should have been cascaded into ghost")
	require.False(t, c.main.Contains([]byte("X")))

	require.NoError(t, c.Put([]byte("X"), []byte("v2")))
	require.True(t, c.main.Contains([]byte("X")))
	require.True(t, c.ghost.Contains([]byte("X")), "the put should not have cleared the stale ghost key")

	_, ok, err := c.Get([]byte("X"))
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, c.small.Contains([]byte("X")), "ghost hit must promote even with PromotionProbability=0")
	require.False(t, c.ghost.Contains([]byte("X")))
	require.False(t, c.main.Contains([]byte("X")))
}

// A key resident in Small for longer than AgeThreshold with a low access
// count is swept back into Main.
func TestQuickDemotionSweepsStaleKey(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 10, SmallRatio: 0.5, GhostRatio: 0.2, AverageValueSize: 1})

	require.NoError(t, c.small.Put([]byte("K"), []byte("vK")))
	c.policy.tracker.reset(Key("K")) // count 0, as a fresh cold admission would be

	for i := 0; i < AgeThreshold+1; i++ {
		c.policy.tracker.tick()
	}

	demoted := c.Sweep()
	require.Equal(t, 1, demoted)
	require.False(t, c.small.Contains([]byte("K")))
	require.True(t, c.main.Contains([]byte("K")))
}

func TestOverwriteReturnsLatestValue(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 100, SmallRatio: 0.1, GhostRatio: 0.1, AverageValueSize: 1})

	require.NoError(t, c.Put([]byte("K"), []byte("v1")))
	require.NoError(t, c.Put([]byte("K"), []byte("v2")))

	v, ok, err := c.Get([]byte("K"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestGetOnEmptyCacheMisses(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 100, SmallRatio: 0.1, GhostRatio: 0.1, AverageValueSize: 1})

	_, ok, err := c.Get([]byte("nonexistent"))
	require.NoError(t, err)
	require.False(t, ok)

	st := c.Stats()
	require.Equal(t, int64(0), st.SmallItems)
	require.Equal(t, int64(0), st.MainItems)
}

func TestNoKeyInBothSmallAndMain(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 20, SmallRatio: 0.2, GhostRatio: 0.2, AverageValueSize: 1})
	c.policy.promotionProbability = 1.0

	for i := 0; i < 30; i++ {
		k := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, c.Put(k, k))
		c.Get(k)
		c.Get(k)
		require.False(t, c.small.Contains(k) && c.main.Contains(k), "key %s in both queues", k)
	}
}

func TestBudgetsAreRespected(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 20, SmallRatio: 0.2, GhostRatio: 0.2, AverageValueSize: 1})

	for i := 0; i < 100; i++ {
		k := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, c.Put(k, k))
	}

	st := c.Stats()
	require.LessOrEqual(t, st.SmallItems, int64(4))
	require.LessOrEqual(t, st.MainItems, int64(16))
	require.LessOrEqual(t, st.GhostItems, int64(4))
}

func TestPrintStateDoesNotPanic(t *testing.T) {
	c := newTestCache(t, Config{TotalSize: 10, SmallRatio: 0.1, GhostRatio: 0.1, AverageValueSize: 1})
	require.NoError(t, c.Put([]byte("a"), []byte("1")))
	out := c.PrintState()
	require.Contains(t, out, "s3fifo state")
}

func TestCloseReturnsNoError(t *testing.T) {
	cfg := Config{TotalSize: 10, SmallRatio: 0.1, GhostRatio: 0.1, AverageValueSize: 1}
	cfg.BasePath = filepath.Join(t.TempDir(), "cache")
	c, err := New(&cfg)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
