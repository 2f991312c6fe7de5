package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timgates42/mako/pkg/config"
	"github.com/timgates42/mako/pkg/util"
)

func TestHeaderChainGating(t *testing.T) {
	checkpoints := []config.Checkpoint{
		{Height: 2, Hash: util.Uint256{0x02}},
		{Height: 4, Hash: util.Uint256{0x04}},
	}

	t.Run("nil when tip past final checkpoint", func(t *testing.T) {
		require.Nil(t, newHeaderChain(util.Uint256{0xff}, 4, checkpoints))
		require.Nil(t, newHeaderChain(util.Uint256{0xff}, 10, checkpoints))
		require.Nil(t, newHeaderChain(util.Uint256{0xff}, 0, nil))
	})

	t.Run("skips passed checkpoints", func(t *testing.T) {
		c := newHeaderChain(util.Uint256{0xff}, 3, checkpoints)
		require.NotNil(t, c)
		cp, ok := c.Checkpoint()
		require.True(t, ok)
		assert.Equal(t, uint32(4), cp.Height)
	})
}

func TestHeaderChainWalk(t *testing.T) {
	checkpoints := []config.Checkpoint{
		{Height: 2, Hash: util.Uint256{0x02}},
		{Height: 4, Hash: util.Uint256{0x04}},
	}
	tip := util.Uint256{0x00}
	c := newHeaderChain(tip, 0, checkpoints)
	require.NotNil(t, c)

	// Must link to the tail.
	require.Equal(t, errHeaderNotLinked, c.Add(util.Uint256{0x01}, util.Uint256{0xaa}))
	require.NoError(t, c.Add(util.Uint256{0x01}, tip))
	assert.False(t, c.AtCheckpoint())

	// Height 2 must match the checkpoint hash.
	require.Equal(t, errCheckpointHash, c.Add(util.Uint256{0xbb}, util.Uint256{0x01}))
	require.NoError(t, c.Add(util.Uint256{0x02}, util.Uint256{0x01}))
	assert.True(t, c.AtCheckpoint())

	batch := c.NextBatch(10)
	assert.Equal(t, []util.Uint256{{0x01}, {0x02}}, batch)
	assert.Empty(t, c.NextBatch(10))

	require.True(t, c.AdvanceCheckpoint())
	require.NoError(t, c.Add(util.Uint256{0x03}, util.Uint256{0x02}))
	require.NoError(t, c.Add(util.Uint256{0x04}, util.Uint256{0x03}))
	assert.True(t, c.AtCheckpoint())
	assert.False(t, c.AdvanceCheckpoint())

	batch = c.NextBatch(1)
	assert.Equal(t, []util.Uint256{{0x03}}, batch)
	batch = c.NextBatch(10)
	assert.Equal(t, []util.Uint256{{0x04}}, batch)
	assert.Equal(t, uint32(4), c.Tail().height)
}
