package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/blocking"
)

func TestStitchPlacesBlocksAtRelativeOffsets(t *testing.T) {
	blocks := []blocking.BlockRef{
		{ID: 0, Begin: blockmodel.Coord{0, 0, 0, 0, 0}, End: blockmodel.Coord{1, 2, 2, 1, 1}},
		{ID: 1, Begin: blockmodel.Coord{0, 2, 0, 0, 0}, End: blockmodel.Coord{1, 4, 2, 1, 1}},
	}
	payloads := map[int64]blockmodel.Payload{
		0: {Shape: blockmodel.Coord{1, 2, 2, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{1, 1, 1, 1}},
		1: {Shape: blockmodel.Coord{1, 2, 2, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{2, 2, 2, 2}},
	}
	start, stop := boundingBox(blocks)
	assert.Equal(t, blockmodel.Coord{0, 0, 0, 0, 0}, start)
	assert.Equal(t, blockmodel.Coord{1, 4, 2, 1, 1}, stop)

	vol, err := stitch(start, stop, blocks, payloads)
	require.NoError(t, err)
	assert.Equal(t, blockmodel.Coord{1, 4, 2, 1, 1}, vol.Shape)

	// x in [0,2) must be all 1s, x in [2,4) must be all 2s.
	for _, b := range vol.Bytes[:4] {
		assert.Equal(t, byte(1), b)
	}
	for _, b := range vol.Bytes[4:] {
		assert.Equal(t, byte(2), b)
	}
}

func TestCropExtractsRequestedWindow(t *testing.T) {
	vol := blockmodel.Payload{
		Shape: blockmodel.Coord{1, 4, 1, 1, 1},
		DType: blockmodel.DTypeUint8,
		Bytes: []byte{10, 20, 30, 40},
	}
	roi := blockmodel.ROI{Begin: blockmodel.Coord{0, 1, 0, 0, 0}, End: blockmodel.Coord{1, 3, 1, 1, 1}}
	out := crop(vol, blockmodel.Coord{0, 0, 0, 0, 0}, roi)
	assert.Equal(t, roi.Shape(), out.Shape)
	assert.Equal(t, []byte{20, 30}, out.Bytes)
}

func TestStitchSkipsMissingBlocksLeavingZeros(t *testing.T) {
	blocks := []blocking.BlockRef{
		{ID: 0, Begin: blockmodel.Coord{0, 0, 0, 0, 0}, End: blockmodel.Coord{1, 1, 1, 1, 1}},
		{ID: 1, Begin: blockmodel.Coord{0, 1, 0, 0, 0}, End: blockmodel.Coord{1, 2, 1, 1, 1}},
	}
	payloads := map[int64]blockmodel.Payload{
		0: {Shape: blockmodel.Coord{1, 1, 1, 1, 1}, DType: blockmodel.DTypeUint8, Bytes: []byte{7}},
	}
	start, stop := boundingBox(blocks)
	vol, err := stitch(start, stop, blocks, payloads)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0}, vol.Bytes)
}
