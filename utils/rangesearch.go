package utils

// BinaryRangeSearch returns the indices of the two points bracketing search.
// points must be ascending. An exact match returns equal indices; values below
// the first point return (0, 0) and values above the last return (n-1, n-1).
func BinaryRangeSearch(search int32, points []int32) (lower, upper int) {
	n := len(points)
	if n == 0 {
		return 0, 0
	}
	if assertionsEnabled {
		for i := 1; i < n; i++ {
			Assert(points[i-1] <= points[i], "range search points not ascending at %d", i)
		}
	}
	if search <= points[0] {
		return 0, 0
	}
	if search >= points[n-1] {
		return n - 1, n - 1
	}

	first, last := 0, n-1
	lower, upper = 0, n-1
	for first <= last {
		mid := (first + last) / 2
		switch {
		case points[mid] < search:
			lower = mid
			first = mid + 1
		case points[mid] == search:
			return mid, mid
		default:
			upper = mid
			last = mid - 1
		}
		if upper-lower == 1 {
			return lower, upper
		}
	}
	return lower, upper
}

// Interpolate maps x on the line through (x1, y1) and (x2, y2) using integer
// arithmetic. A vertical segment yields y1 or the midpoint of y1 and y2.
func Interpolate(x, x1, x2, y1, y2 int32) int32 {
	if x1 == x2 {
		if y1 == y2 {
			return y1
		}
		return (y2-y1)/2 + y1
	}
	dx := int64(x) - int64(x1)
	dy := int64(y2) - int64(y1)
	return int32(dx*dy/(int64(x2)-int64(x1)) + int64(y1))
}
