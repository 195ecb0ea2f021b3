package csi

// Binning follows the scheme shared by BAI and CSI: a tree of depth+1 levels
// in which level l has 8^l bins, the leaves span 1<<minShift bases, and bins
// are numbered breadth-first from 0.

// binFirst returns the number of the first bin on level l.
func binFirst(l uint) uint32 {
	return uint32(((1 << (3 * l)) - 1) / 7)
}

// binParent returns the parent of bin b, which must be nonzero.
func binParent(b uint32) uint32 {
	return (b - 1) >> 3
}

// binLevel returns the level of bin b.
func binLevel(b uint32) uint {
	l := uint(0)
	for ; b != 0; b = binParent(b) {
		l++
	}
	return l
}

// binBottom returns the index of the leftmost leaf window covered by bin b.
func binBottom(b uint32, depth uint) int {
	l := binLevel(b)
	return int(b-binFirst(l)) << (3 * (depth - l))
}

// binLimit returns the number of regular bins for the given depth.  The
// metadata pseudo-bin is binLimit(depth)+1.
func binLimit(depth uint) uint32 {
	return binFirst(depth + 1)
}

// maxPos returns the exclusive upper bound of positions addressable with the
// given parameters.
func maxPos(minShift, depth uint) int64 {
	return 1 << (minShift + 3*depth)
}

// Reg2Bin returns the smallest bin that fully contains the 0-based half-open
// interval [beg, end).
func Reg2Bin(beg, end int64, minShift, depth uint) uint32 {
	if end <= beg {
		end = beg + 1
	}
	end--
	s := minShift
	t := binFirst(depth)
	for l := depth; l > 0; l-- {
		if beg>>s == end>>s {
			return t + uint32(beg>>s)
		}
		s += 3
		t -= 1 << (3 * (l - 1))
	}
	return 0
}

// Reg2Bins returns every bin that may hold records overlapping [beg, end), in
// level order.
func Reg2Bins(beg, end int64, minShift, depth uint) []uint32 {
	if beg < 0 {
		beg = 0
	}
	if m := maxPos(minShift, depth); end > m {
		end = m
	}
	if beg >= end {
		return nil
	}
	end--
	var bins []uint32
	s := minShift + 3*depth
	t := uint32(0)
	for l := uint(0); l <= depth; l++ {
		b := t + uint32(beg>>s)
		e := t + uint32(end>>s)
		for i := b; i <= e; i++ {
			bins = append(bins, i)
		}
		s -= 3
		t += 1 << (3 * l)
	}
	return bins
}
