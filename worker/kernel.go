// Package worker implements the classifier worker lifecycle from spec
// §4.6: consume block-compute tasks, fetch halo-expanded raw data,
// invoke the (opaque) classifier kernel, cache the result, and
// announce completion.
package worker

import "github.com/ilastik/blockpipeline/blockmodel"

// Kernel is the classifier's opaque compute contract (spec §1: "the
// classifier implementation — opaque compute kernel; specified only
// by its block-in/block-out contract"). A real deployment backs this
// with the pretrained random-forest/feature pipeline; this package
// only depends on the interface.
type Kernel interface {
	// Halo returns the per-axis halo this kernel needs around a block
	// of the given inner shape, derived from its feature-scale
	// requirements. The halo is the kernel's opaque concern (spec
	// §4.6); the worker only uses the result to expand its raw fetch.
	Halo(innerShape blockmodel.Coord) blockmodel.Coord

	// NumClasses returns the channel count of this kernel's output.
	NumClasses() int

	// Compute produces per-class probabilities for the block whose
	// inner (halo-free) shape is innerShape, given the halo-expanded
	// raw buffer. The output's spatial extent equals innerShape; its
	// channel axis equals NumClasses().
	Compute(raw blockmodel.Payload, innerShape blockmodel.Coord) (blockmodel.Payload, error)
}
