package thresholder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
)

func encodeFloat32Channel(nx, ny, nz, nc, channel int, value func(x, y, z int) float32) []byte {
	out := make([]byte, nx*ny*nz*nc*4)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				elem := ((x*ny+y)*nz+z)*nc + channel
				bits := math.Float32bits(value(x, y, z))
				off := elem * 4
				out[off] = byte(bits)
				out[off+1] = byte(bits >> 8)
				out[off+2] = byte(bits >> 16)
				out[off+3] = byte(bits >> 24)
			}
		}
	}
	return out
}

// TestLabelSplitsRampAtThreshold matches the specified end-to-end
// worked example: an (1,8,8,8,2) volume whose channel 1 is a linear
// ramp in x, thresholded at 0.5 with zero smoothing, yields exactly
// two connected components split at x=4.
func TestLabelSplitsRampAtThreshold(t *testing.T) {
	const nx, ny, nz, nc = 8, 8, 8, 2
	raw := encodeFloat32Channel(nx, ny, nz, nc, 1, func(x, y, z int) float32 {
		return float32(x) / float32(nx-1)
	})
	prob := blockmodel.Payload{
		Shape: blockmodel.Coord{1, nx, ny, nz, nc},
		DType: blockmodel.DTypeFloat32,
		Bytes: raw,
	}

	th := New(Config{SigmaX: 0, SigmaY: 0, SigmaZ: 0, Threshold: 0.5, Channel: 1})
	out, err := th.Label(prob, blockmodel.Dim3)
	require.NoError(t, err)

	assert.Equal(t, blockmodel.Coord{1, nx, ny, nz, 1}, out.Shape)
	assert.Equal(t, blockmodel.DTypeInt32, out.DType)

	labels := decodeInt32(out.Bytes)
	seen := map[int32]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	assert.Len(t, seen, 2, "expected exactly two connected components")

	// x < 4 (below threshold) and x >= 4 (at/above threshold) must fall
	// into two different, internally uniform components.
	idx := func(x, y, z int) int { return (x*ny+y)*nz + z }
	belowLabel := labels[idx(3, 0, 0)]
	aboveLabel := labels[idx(4, 0, 0)]
	assert.NotEqual(t, belowLabel, aboveLabel)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			assert.Equal(t, belowLabel, labels[idx(3, y, z)])
			assert.Equal(t, aboveLabel, labels[idx(4, y, z)])
		}
	}
}

func TestLabelRejectsMultiFrameVolume(t *testing.T) {
	prob := blockmodel.Payload{Shape: blockmodel.Coord{2, 4, 4, 1, 1}, DType: blockmodel.DTypeFloat32, Bytes: make([]byte, 2*4*4*1*1*4)}
	th := New(DefaultConfig())
	_, err := th.Label(prob, blockmodel.Dim2)
	assert.Error(t, err)
}

func TestLabelRejectsOutOfRangeChannel(t *testing.T) {
	prob := blockmodel.Payload{Shape: blockmodel.Coord{1, 4, 4, 1, 2}, DType: blockmodel.DTypeFloat32, Bytes: make([]byte, 4*4*1*2*4)}
	th := New(Config{Channel: 5, Threshold: 0.5})
	_, err := th.Label(prob, blockmodel.Dim2)
	assert.Error(t, err)
}

func TestLabelComponents2DFourConnectivity(t *testing.T) {
	// 3x3 grid, two diagonal corners set: not 4-connected to each other.
	mask := []bool{
		true, false, false,
		false, false, false,
		false, false, true,
	}
	labels := labelComponents2D(mask, 3, 3)
	assert.NotEqual(t, labels[0], labels[8])
	assert.NotZero(t, labels[0])
	assert.NotZero(t, labels[8])
}

func TestGaussianKernelNormalizes(t *testing.T) {
	k := gaussianKernel(1.0)
	var sum float64
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func decodeInt32(raw []byte) []int32 {
	out := make([]int32, len(raw)/4)
	for i := range out {
		off := i * 4
		u := uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
		out[i] = int32(u)
	}
	return out
}
