// Package thresholder implements the stateless per-time-frame
// segmentation stage (spec §4.7): Gaussian-smooth one probability
// channel, threshold it, label connected components, and reinsert the
// singleton t/c axes. It caches nothing between calls.
package thresholder

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
)

// Config is the thresholder's per-deployment configuration (spec §4.7
// step 2-3: "config-driven" sigmas, a configured threshold value, and
// the channel to segment).
type Config struct {
	SigmaX, SigmaY, SigmaZ float64
	Threshold              float64
	Channel                int
}

// DefaultConfig returns the spec's default: isotropic sigma 1.0 on
// every spatial axis.
func DefaultConfig() Config {
	return Config{SigmaX: 1.0, SigmaY: 1.0, SigmaZ: 1.0, Threshold: 0.5, Channel: 0}
}

// Thresholder runs the smoothing/threshold/label pipeline. It holds no
// mutable state and is safe for concurrent use.
type Thresholder struct {
	cfg Config
}

// New constructs a Thresholder from cfg.
func New(cfg Config) *Thresholder {
	return &Thresholder{cfg: cfg}
}

// Label runs the full pipeline on prob, a single-time-frame
// probability volume in canonical 5-D order (t=1, x, y, z, c=classes),
// and returns a 5-D (1, x, y, z, 1) int32 label image. Every maximal
// connected region of the thresholded mask gets its own label,
// including the background, so a mask cleanly split in two yields
// exactly two labels.
func (th *Thresholder) Label(prob blockmodel.Payload, dim blockmodel.Dim) (blockmodel.Payload, error) {
	if prob.Shape[blockmodel.AxisT] != 1 {
		return blockmodel.Payload{}, apierr.Validation("thresholder: expected a single time-frame, got t=%d", prob.Shape[blockmodel.AxisT])
	}
	if prob.DType != blockmodel.DTypeFloat32 {
		return blockmodel.Payload{}, apierr.Validation("thresholder: expected float32 probabilities, got %s", prob.DType)
	}
	nx := int(prob.Shape[blockmodel.AxisX])
	ny := int(prob.Shape[blockmodel.AxisY])
	nz := int(prob.Shape[blockmodel.AxisZ])
	nc := int(prob.Shape[blockmodel.AxisC])
	if th.cfg.Channel < 0 || th.cfg.Channel >= nc {
		return blockmodel.Payload{}, apierr.Validation("thresholder: channel %d out of range [0,%d)", th.cfg.Channel, nc)
	}

	channel := extractChannel(prob.Bytes, nx, ny, nz, nc, th.cfg.Channel)
	smoothGaussian3D(channel, nx, ny, nz, th.cfg.SigmaX, th.cfg.SigmaY, th.cfg.SigmaZ, effectiveZ(dim, nz))

	mask := make([]bool, len(channel))
	for i, v := range channel {
		mask[i] = v >= th.cfg.Threshold
	}

	var labels []int32
	if dim == blockmodel.Dim3 {
		labels = labelComponents3D(mask, nx, ny, nz)
	} else {
		labels = labelComponents2D(mask, nx, ny)
	}

	out := blockmodel.Payload{
		Shape: blockmodel.Coord{1, int64(nx), int64(ny), int64(nz), 1},
		DType: blockmodel.DTypeInt32,
		Bytes: int32SliceToBytes(labels),
	}
	return out, nil
}

func effectiveZ(dim blockmodel.Dim, nz int) int {
	if dim == blockmodel.Dim2 {
		return 1
	}
	return nz
}

// extractChannel copies one channel out of a (1,x,y,z,c) float32
// buffer into a flat x*y*z slice in row-major (x slowest, z fastest)
// order, matching the canonical axis order used elsewhere.
func extractChannel(raw []byte, nx, ny, nz, nc, channel int) []float32 {
	out := make([]float32, nx*ny*nz)
	idx := 0
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				elem := ((x*ny+y)*nz+z)*nc + channel
				out[idx] = decodeFloat32(raw, elem)
				idx++
			}
		}
	}
	return out
}

func decodeFloat32(raw []byte, elem int) float32 {
	off := elem * 4
	bits := uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
	return math.Float32frombits(bits)
}

func int32SliceToBytes(labels []int32) []byte {
	out := make([]byte, len(labels)*4)
	for i, v := range labels {
		u := uint32(v)
		out[i*4] = byte(u)
		out[i*4+1] = byte(u >> 8)
		out[i*4+2] = byte(u >> 16)
		out[i*4+3] = byte(u >> 24)
	}
	return out
}

// smoothGaussian3D applies a separable isotropic Gaussian blur in
// place over a flat x*y*z buffer in (x,y,z) row-major order. Each axis
// with sigma <= 0 or extent 1 is skipped (spec §4.7 step 2: "per-axis
// sigmas"; a zero sigma on an axis is a no-op, matching the 2-D case
// where z collapses to a single plane).
func smoothGaussian3D(buf []float32, nx, ny, nz int, sigmaX, sigmaY, sigmaZ float64, effectiveNZ int) {
	convolveAxis(buf, nx, ny, nz, 0, sigmaX)
	convolveAxis(buf, nx, ny, nz, 1, sigmaY)
	if effectiveNZ > 1 {
		convolveAxis(buf, nx, ny, nz, 2, sigmaZ)
	}
}

// convolveAxis convolves buf along axis (0=x,1=y,2=z) with a truncated
// Gaussian kernel, reflecting at the boundary.
func convolveAxis(buf []float32, nx, ny, nz, axis int, sigma float64) {
	if sigma <= 0 {
		return
	}
	kernel := gaussianKernel(sigma)
	radius := (len(kernel) - 1) / 2

	dims := [3]int{nx, ny, nz}
	n := dims[axis]
	if n <= 1 {
		return
	}
	line := make([]float64, n)
	scratch := make([]float64, n)

	strides := [3]int{ny * nz, nz, 1}
	total := nx * ny * nz
	axisStride := strides[axis]

	for start := 0; start < total; start++ {
		if !isLineStart(start, dims, strides, axis) {
			continue
		}
		for i := 0; i < n; i++ {
			line[i] = float64(buf[start+i*axisStride])
		}
		for i := 0; i < n; i++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				j := reflect(i+k, n)
				acc += line[j] * kernel[k+radius]
			}
			scratch[i] = acc
		}
		for i := 0; i < n; i++ {
			buf[start+i*axisStride] = float32(scratch[i])
		}
	}
}

func isLineStart(offset int, dims, strides [3]int, axis int) bool {
	coord := [3]int{}
	rem := offset
	for a := 0; a < 3; a++ {
		coord[a] = rem / strides[a]
		rem = rem % strides[a]
	}
	return coord[axis] == 0
}

func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// gaussianKernel builds a normalized, truncated 1-D Gaussian kernel
// spanning +/-3 sigma (rounded to the nearest integer radius, at
// least 1).
func gaussianKernel(sigma float64) []float64 {
	radius := int(3*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	for i := -radius; i <= radius; i++ {
		x := float64(i)
		kernel[i+radius] = gaussianDensity(x, sigma)
	}
	sum := floats.Sum(kernel)
	floats.Scale(1/sum, kernel)
	return kernel
}

func gaussianDensity(x, sigma float64) float64 {
	return math.Exp(-(x * x) / (2 * sigma * sigma))
}
