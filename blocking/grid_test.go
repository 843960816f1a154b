package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
)

func trivialGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(blockmodel.Coord{1, 16, 16, 1, 1}, blockmodel.Coord{1, 8, 8, 1, 1})
	require.NoError(t, err)
	return g
}

func TestGridPartition(t *testing.T) {
	g := trivialGrid(t)
	require.EqualValues(t, 4, g.NumBlocks())

	seen := make(map[int64]int)
	for _, blk := range g.Enumerate() {
		for x := blk.Begin[blockmodel.AxisX]; x < blk.End[blockmodel.AxisX]; x++ {
			for y := blk.Begin[blockmodel.AxisY]; y < blk.End[blockmodel.AxisY]; y++ {
				coord := blockmodel.Coord{0, x, y, 0, 0}
				id, err := g.BlockAt(coord)
				require.NoError(t, err)
				assert.Equal(t, blk.ID, id)
				seen[id]++
			}
		}
	}
	// every one of the 256 spatial points maps to exactly one block
	total := 0
	for _, c := range seen {
		total += c
	}
	assert.Equal(t, 256, total)
}

func TestBlockAtUpperBoundIsInclusiveLeft(t *testing.T) {
	g := trivialGrid(t)
	lastID, err := g.BlockAt(blockmodel.Coord{0, 15, 15, 0, 0})
	require.NoError(t, err)

	atUpperBound, err := g.BlockAt(blockmodel.Coord{0, 16, 16, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, lastID, atUpperBound)
}

func TestBlocksInFullVolume(t *testing.T) {
	g := trivialGrid(t)
	ids, err := g.BlocksIn(blockmodel.Coord{0, 0, 0, 0, 0}, blockmodel.Coord{1, 16, 16, 1, 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{0, 1, 2, 3}, ids)
}

func TestBlocksInPartialROI(t *testing.T) {
	g := trivialGrid(t)
	ids, err := g.BlocksIn(blockmodel.Coord{0, 0, 0, 0, 0}, blockmodel.Coord{1, 8, 8, 1, 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{0}, ids)
}

func TestEdgeBlocksAreTruncatedNotPadded(t *testing.T) {
	g, err := NewGrid(blockmodel.Coord{1, 10, 10, 1, 1}, blockmodel.Coord{1, 8, 8, 1, 1})
	require.NoError(t, err)

	blk, err := g.Block(2) // x grid index 1, y grid index 0 (last axis varies fastest): x range [8,10)
	require.NoError(t, err)
	assert.Equal(t, int64(8), blk.Begin[blockmodel.AxisX])
	assert.Equal(t, int64(10), blk.End[blockmodel.AxisX])
}

func TestDim2DegenerateZAxis(t *testing.T) {
	g, err := NewGrid(blockmodel.Coord{1, 32, 32, 1, 3}, blockmodel.Coord{1, 8, 8, 1, 1})
	require.NoError(t, err)
	assert.True(t, g.Dim2())

	for _, blk := range g.Enumerate() {
		assert.Equal(t, int64(1), blk.End[blockmodel.AxisZ]-blk.Begin[blockmodel.AxisZ])
	}
}

func TestNewGridRejectsNonUnitTimeOrChannelBlockSize(t *testing.T) {
	_, err := NewGrid(blockmodel.Coord{2, 16, 16, 1, 1}, blockmodel.Coord{2, 8, 8, 1, 1})
	assert.Error(t, err)

	_, err = NewGrid(blockmodel.Coord{1, 16, 16, 1, 3}, blockmodel.Coord{1, 8, 8, 1, 3})
	assert.Error(t, err)
}
