package thresholder

// labelComponents2D assigns a distinct positive int32 label to every
// maximal 4-connected region of equal mask value (row-major x*y, x
// slowest). Unlike a foreground-only labeling, both the thresholded
// region and its complement are labeled, so a mask split cleanly in
// two by a monotonic threshold yields exactly two labels.
func labelComponents2D(mask []bool, nx, ny int) []int32 {
	labels := make([]int32, len(mask))
	idx := func(x, y int) int { return x*ny + y }

	var next int32 = 1
	stack := make([]int, 0, 64)

	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			i := idx(x, y)
			if labels[i] != 0 {
				continue
			}
			v := mask[i]
			labels[i] = next
			stack = append(stack[:0], i)
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := cur/ny, cur%ny
				for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
					nxp, nyp := cx+d[0], cy+d[1]
					if nxp < 0 || nxp >= nx || nyp < 0 || nyp >= ny {
						continue
					}
					ni := idx(nxp, nyp)
					if mask[ni] == v && labels[ni] == 0 {
						labels[ni] = next
						stack = append(stack, ni)
					}
				}
			}
			next++
		}
	}
	return labels
}

// labelComponents3D assigns a distinct positive int32 label to every
// maximal 6-connected region of equal mask value (row-major x*y*z, x
// slowest, z fastest). See labelComponents2D for why both mask values
// are labeled.
func labelComponents3D(mask []bool, nx, ny, nz int) []int32 {
	labels := make([]int32, len(mask))
	idx := func(x, y, z int) int { return (x*ny+y)*nz + z }

	var next int32 = 1
	stack := make([]int, 0, 64)

	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				i := idx(x, y, z)
				if labels[i] != 0 {
					continue
				}
				v := mask[i]
				labels[i] = next
				stack = append(stack[:0], i)
				for len(stack) > 0 {
					cur := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					cz := cur % nz
					rest := cur / nz
					cy := rest % ny
					cx := rest / ny
					for _, d := range [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}} {
						nxp, nyp, nzp := cx+d[0], cy+d[1], cz+d[2]
						if nxp < 0 || nxp >= nx || nyp < 0 || nyp >= ny || nzp < 0 || nzp >= nz {
							continue
						}
						ni := idx(nxp, nyp, nzp)
						if mask[ni] == v && labels[ni] == 0 {
							labels[ni] = next
							stack = append(stack, ni)
						}
					}
				}
				next++
			}
		}
	}
	return labels
}
