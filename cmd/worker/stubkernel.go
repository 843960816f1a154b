package main

import (
	"math"

	"github.com/ilastik/blockpipeline/blockmodel"
)

// stubKernel is a placeholder classifier kernel. The pretrained
// feature/random-forest pipeline is an external collaborator (spec:
// "the classifier implementation — opaque compute kernel; specified
// only by its block-in/block-out contract") and is never implemented
// here; this type exists only so the worker binary can run end to end
// against the rest of the pipeline. It reports a fixed halo and class
// count and ignores the raw input: every voxel gets probability 1 for
// class 0 and 0 for every other class, nothing more.
type stubKernel struct {
	halo       blockmodel.Coord
	numClasses int
}

func (k stubKernel) Halo(innerShape blockmodel.Coord) blockmodel.Coord { return k.halo }

func (k stubKernel) NumClasses() int { return k.numClasses }

func (k stubKernel) Compute(raw blockmodel.Payload, innerShape blockmodel.Coord) (blockmodel.Payload, error) {
	out := blockmodel.Coord{innerShape[blockmodel.AxisT], innerShape[blockmodel.AxisX], innerShape[blockmodel.AxisY], innerShape[blockmodel.AxisZ], int64(k.numClasses)}
	n := out[0] * out[1] * out[2] * out[3] * out[4]
	bytes := make([]byte, n*4)
	for i := int64(0); i < n/int64(k.numClasses); i++ {
		for c := 0; c < k.numClasses; c++ {
			v := float32(0)
			if c == 0 {
				v = 1
			}
			off := (i*int64(k.numClasses) + int64(c)) * 4
			putFloat32(bytes[off:off+4], v)
		}
	}
	return blockmodel.Payload{Shape: out, DType: blockmodel.DTypeFloat32, Bytes: bytes}, nil
}

func putFloat32(dst []byte, v float32) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}
