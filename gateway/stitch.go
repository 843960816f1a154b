package gateway

import (
	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/blocking"
)

// boundingBox returns the minimal ROI (start, stop) spanning every
// block in blocks (spec §4.8: "stitch into the minimal bounding box of
// the selected blocks").
func boundingBox(blocks []blocking.BlockRef) (start, stop blockmodel.Coord) {
	if len(blocks) == 0 {
		return start, stop
	}
	start = blocks[0].Begin
	stop = blocks[0].End
	for _, b := range blocks[1:] {
		for i := 0; i < blockmodel.NumAxes; i++ {
			if b.Begin[i] < start[i] {
				start[i] = b.Begin[i]
			}
			if b.End[i] > stop[i] {
				stop[i] = b.End[i]
			}
		}
	}
	return start, stop
}

// stitch allocates a destination volume covering [start, stop) and
// copies every payload at its block-relative offset (spec §4.8:
// "allocate a destination volume of shape stop-start ... copy each
// payload at its (block.begin - start) offset, ignoring the channel
// dimension extents"). The channel width of the output is taken from
// the first payload; every payload is assumed to share it.
func stitch(start, stop blockmodel.Coord, blocks []blocking.BlockRef, payloads map[int64]blockmodel.Payload) (blockmodel.Payload, error) {
	shape := stop.Sub(start)
	if len(payloads) == 0 {
		return blockmodel.Payload{Shape: shape}, nil
	}

	var dtype blockmodel.DType
	var channels int64
	for _, p := range payloads {
		dtype = p.DType
		channels = p.Shape[blockmodel.AxisC]
		break
	}
	shape[blockmodel.AxisC] = channels

	dest := blockmodel.Payload{
		Shape: shape,
		DType: dtype,
		Bytes: make([]byte, shape[0]*shape[1]*shape[2]*shape[3]*shape[4]*int64(dtype.Size())),
	}

	for _, blk := range blocks {
		payload, ok := payloads[blk.ID]
		if !ok {
			continue
		}
		offset := blk.Begin.Sub(start)
		copyBlockInto(dest, payload, offset)
	}
	return dest, nil
}

// copyBlockInto copies src's dense buffer into dest at the 5-D offset,
// element-by-element, honoring each volume's own strides.
func copyBlockInto(dest blockmodel.Payload, src blockmodel.Payload, offset blockmodel.Coord) {
	elemSize := int64(src.DType.Size())
	destStride := strides(dest.Shape)
	srcStride := strides(src.Shape)

	for t := int64(0); t < src.Shape[blockmodel.AxisT]; t++ {
		for x := int64(0); x < src.Shape[blockmodel.AxisX]; x++ {
			for y := int64(0); y < src.Shape[blockmodel.AxisY]; y++ {
				for z := int64(0); z < src.Shape[blockmodel.AxisZ]; z++ {
					srcIdx := t*srcStride[0] + x*srcStride[1] + y*srcStride[2] + z*srcStride[3]
					destT, destX, destY, destZ := t+offset[0], x+offset[1], y+offset[2], z+offset[3]
					destIdx := destT*destStride[0] + destX*destStride[1] + destY*destStride[2] + destZ*destStride[3]

					srcOff := srcIdx * src.Shape[blockmodel.AxisC] * elemSize
					destOff := destIdx * dest.Shape[blockmodel.AxisC] * elemSize
					n := src.Shape[blockmodel.AxisC] * elemSize
					copy(dest.Bytes[destOff:destOff+n], src.Bytes[srcOff:srcOff+n])
				}
			}
		}
	}
}

// strides returns the row-major element strides for axes t,x,y,z
// (channel is handled separately since it is not bounding-box
// dependent, per the stitching rule).
func strides(shape blockmodel.Coord) [4]int64 {
	var s [4]int64
	s[3] = 1
	s[2] = s[3] * shape[blockmodel.AxisZ]
	s[1] = s[2] * shape[blockmodel.AxisY]
	s[0] = s[1] * shape[blockmodel.AxisX]
	return s
}

// crop extracts the sub-volume [roi.Begin, roi.End) from a payload
// whose own extent is [volStart, volStart+shape), copying only the
// requested window (spec §4.8 step 7: "crop to R").
func crop(vol blockmodel.Payload, volStart blockmodel.Coord, roi blockmodel.ROI) blockmodel.Payload {
	outShape := roi.Shape()
	outShape[blockmodel.AxisC] = vol.Shape[blockmodel.AxisC]
	elemSize := int64(vol.DType.Size())
	volStride := strides(vol.Shape)

	out := blockmodel.Payload{
		Shape: outShape,
		DType: vol.DType,
		Bytes: make([]byte, outShape[0]*outShape[1]*outShape[2]*outShape[3]*outShape[4]*elemSize),
	}
	outStride := strides(outShape)

	relBegin := roi.Begin.Sub(volStart)
	for t := int64(0); t < outShape[blockmodel.AxisT]; t++ {
		for x := int64(0); x < outShape[blockmodel.AxisX]; x++ {
			for y := int64(0); y < outShape[blockmodel.AxisY]; y++ {
				for z := int64(0); z < outShape[blockmodel.AxisZ]; z++ {
					srcT, srcX, srcY, srcZ := t+relBegin[0], x+relBegin[1], y+relBegin[2], z+relBegin[3]
					srcIdx := srcT*volStride[0] + srcX*volStride[1] + srcY*volStride[2] + srcZ*volStride[3]
					dstIdx := t*outStride[0] + x*outStride[1] + y*outStride[2] + z*outStride[3]

					n := outShape[blockmodel.AxisC] * elemSize
					srcOff := srcIdx * vol.Shape[blockmodel.AxisC] * elemSize
					dstOff := dstIdx * n
					copy(out.Bytes[dstOff:dstOff+n], vol.Bytes[srcOff:srcOff+n])
				}
			}
		}
	}
	return out
}
