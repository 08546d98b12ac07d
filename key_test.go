package s3fifo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonRoundTrips(t *testing.T) {
	k := Key("hello")
	require.Equal(t, "hello", canon(k))
	require.Equal(t, canon(Key("hello")), canon(Key("hello")))
	require.NotEqual(t, canon(Key("hello")), canon(Key("world")))
}

func TestCanonDoesNotInterpretBytesNumerically(t *testing.T) {
	// "01" and "1" must never collide even though they'd be equal if the
	// key were parsed as an integer.
	require.NotEqual(t, canon(Key("01")), canon(Key("1")))
}

func TestShardOfIsDeterministicAndBounded(t *testing.T) {
	const n = 16
	k := Key("some-cache-key")
	first := shardOf(k, n)
	require.Less(t, first, uint64(n))
	for i := 0; i < 10; i++ {
		require.Equal(t, first, shardOf(k, n))
	}
}

func TestShardOfSpreadsDistinctKeys(t *testing.T) {
	const n = 64
	seen := make(map[uint64]bool)
	for i := 0; i < n*4; i++ {
		k := Key([]byte{byte(i), byte(i >> 8)})
		seen[shardOf(k, n)] = true
	}
	require.Greater(t, len(seen), 1, "expected keys to land on more than one shard")
}
