// Package blocking implements the pure coordinate math that tiles a
// bounded 5-D volume into a regular grid of halo-free blocks: no I/O,
// no shared state, safe to call from any goroutine.
package blocking

import (
	"fmt"

	"github.com/ilastik/blockpipeline/blockmodel"
)

// BlockRef identifies one block of the grid by its id and its
// axis-aligned extent.
type BlockRef struct {
	ID    int64
	Begin blockmodel.Coord
	End   blockmodel.Coord
}

// Shape returns End - Begin for this block.
func (b BlockRef) Shape() blockmodel.Coord { return b.End.Sub(b.Begin) }

// Grid is the block tiling of a volume of the given shape by the
// given per-axis block size. B[AxisT] and B[AxisC] must be 1 (§3:
// "per-time-frame, per-channel"); B[AxisZ] must be 1 when the volume
// is 2-D.
type Grid struct {
	VolumeShape blockmodel.Coord
	BlockShape  blockmodel.Coord
	dims        [blockmodel.NumAxes]int64 // number of blocks along each axis
}

// NewGrid validates blockShape against volumeShape and returns the
// resulting Grid.
func NewGrid(volumeShape, blockShape blockmodel.Coord) (*Grid, error) {
	if blockShape[blockmodel.AxisT] != 1 {
		return nil, fmt.Errorf("blocking: block shape axis t must be 1, got %d", blockShape[blockmodel.AxisT])
	}
	if blockShape[blockmodel.AxisC] != 1 {
		return nil, fmt.Errorf("blocking: block shape axis c must be 1, got %d", blockShape[blockmodel.AxisC])
	}
	g := &Grid{VolumeShape: volumeShape, BlockShape: blockShape}
	for i := 0; i < blockmodel.NumAxes; i++ {
		if blockShape[i] <= 0 {
			return nil, fmt.Errorf("blocking: block shape axis %d must be positive, got %d", i, blockShape[i])
		}
		if volumeShape[i] <= 0 {
			return nil, fmt.Errorf("blocking: volume shape axis %d must be positive, got %d", i, volumeShape[i])
		}
		g.dims[i] = ceilDiv(volumeShape[i], blockShape[i])
	}
	return g, nil
}

// Dim2 reports whether this grid describes a 2-D volume (z axis
// collapsed to extent 1).
func (g *Grid) Dim2() bool { return g.VolumeShape[blockmodel.AxisZ] == 1 }

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// NumBlocks returns the total number of blocks in canonical
// enumeration order.
func (g *Grid) NumBlocks() int64 {
	n := int64(1)
	for _, d := range g.dims {
		n *= d
	}
	return n
}

// gridCoordToID maps a per-axis block-grid coordinate to its
// lexicographic block id in canonical axis order.
func (g *Grid) gridCoordToID(gc [blockmodel.NumAxes]int64) int64 {
	var id int64
	for i := 0; i < blockmodel.NumAxes; i++ {
		id = id*g.dims[i] + gc[i]
	}
	return id
}

// idToGridCoord inverts gridCoordToID.
func (g *Grid) idToGridCoord(id int64) [blockmodel.NumAxes]int64 {
	var gc [blockmodel.NumAxes]int64
	for i := blockmodel.NumAxes - 1; i >= 0; i-- {
		gc[i] = id % g.dims[i]
		id /= g.dims[i]
	}
	return gc
}

// Block returns the BlockRef for id. id must be in [0, NumBlocks()).
func (g *Grid) Block(id int64) (BlockRef, error) {
	if id < 0 || id >= g.NumBlocks() {
		return BlockRef{}, fmt.Errorf("blocking: block id %d out of range [0, %d)", id, g.NumBlocks())
	}
	gc := g.idToGridCoord(id)
	var begin, end blockmodel.Coord
	for i := 0; i < blockmodel.NumAxes; i++ {
		begin[i] = gc[i] * g.BlockShape[i]
		end[i] = begin[i] + g.BlockShape[i]
		if end[i] > g.VolumeShape[i] {
			end[i] = g.VolumeShape[i] // edge blocks are truncated, never padded
		}
	}
	return BlockRef{ID: id, Begin: begin, End: end}, nil
}

// BlockAt returns the id of the unique block containing coord. For a
// coordinate equal to an axis upper bound, the block to the left is
// returned (§4.1: "treat as inclusive for this query").
func (g *Grid) BlockAt(coord blockmodel.Coord) (int64, error) {
	var gc [blockmodel.NumAxes]int64
	for i := 0; i < blockmodel.NumAxes; i++ {
		c := coord[i]
		if c == g.VolumeShape[i] {
			c-- // inclusive treatment of the axis upper bound
		}
		if c < 0 || c >= g.VolumeShape[i] {
			return 0, fmt.Errorf("blocking: coordinate axis %d value %d out of volume bounds [0, %d]", i, coord[i], g.VolumeShape[i])
		}
		gc[i] = c / g.BlockShape[i]
	}
	return g.gridCoordToID(gc), nil
}

// Enumerate returns every BlockRef in canonical enumeration order.
func (g *Grid) Enumerate() []BlockRef {
	n := g.NumBlocks()
	out := make([]BlockRef, 0, n)
	for id := int64(0); id < n; id++ {
		ref, _ := g.Block(id) // id is always in range by construction
		out = append(out, ref)
	}
	return out
}

// BlocksIn enumerates all block ids intersecting [begin, end) by
// iterating the Cartesian product of per-axis block ranges derived
// from BlockAt(begin) and BlockAt(end-1).
func (g *Grid) BlocksIn(begin, end blockmodel.Coord) ([]int64, error) {
	var last blockmodel.Coord
	for i := 0; i < blockmodel.NumAxes; i++ {
		if begin[i] >= end[i] {
			return nil, fmt.Errorf("blocking: begin[%d]=%d is not less than end[%d]=%d", i, begin[i], i, end[i])
		}
		last[i] = end[i] - 1
	}

	beginID, err := g.BlockAt(begin)
	if err != nil {
		return nil, err
	}
	lastID, err := g.BlockAt(last)
	if err != nil {
		return nil, err
	}
	beginGC := g.idToGridCoord(beginID)
	lastGC := g.idToGridCoord(lastID)

	var ids []int64
	var recurse func(axis int, gc [blockmodel.NumAxes]int64)
	recurse = func(axis int, gc [blockmodel.NumAxes]int64) {
		if axis == blockmodel.NumAxes {
			ids = append(ids, g.gridCoordToID(gc))
			return
		}
		for v := beginGC[axis]; v <= lastGC[axis]; v++ {
			gc[axis] = v
			recurse(axis+1, gc)
		}
	}
	recurse(0, [blockmodel.NumAxes]int64{})
	return ids, nil
}
