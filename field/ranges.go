package field

import "fmt"

// An index range selects items of a collection as runs of consecutive items,
// flattened as [start0, len0, start1, len1, ..., total] where total is the sum
// of the run lengths.

// RangeBuilder accumulates item indexes into an index range, extending the
// current run when indexes are consecutive.
type RangeBuilder struct {
	runs  []int
	total int
}

// Add appends item i to the range
func (rb *RangeBuilder) Add(i int) {
	n := len(rb.runs)
	if n >= 2 && rb.runs[n-2]+rb.runs[n-1] == i {
		rb.runs[n-1]++
	} else {
		rb.runs = append(rb.runs, i, 1)
	}
	rb.total++
}

// Len is the number of items added so far
func (rb *RangeBuilder) Len() int { return rb.total }

// Range returns the flattened range and resets the builder
func (rb *RangeBuilder) Range() []int {
	r := append(rb.runs, rb.total)
	rb.runs, rb.total = nil, 0
	return r
}

// RangeTotal returns the item count carried by a range, 0 for an empty slice
func RangeTotal(r []int) int {
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

// ValidateRange checks that r is well formed and selects items below
// itemCount. It returns the total number of selected items.
func ValidateRange(r []int, itemCount int) (int, error) {
	if len(r) == 0 || len(r)%2 != 1 {
		return 0, fmt.Errorf("%w: length %d", ErrBadRange, len(r))
	}
	sum := 0
	for i := 0; i+1 < len(r); i += 2 {
		start, n := r[i], r[i+1]
		if start < 0 || n < 0 {
			return 0, fmt.Errorf("%w: negative run (%d,%d)", ErrBadRange, start, n)
		}
		if start+n > itemCount {
			return 0, fmt.Errorf("%w: run (%d,%d) beyond %d items", ErrBadRange, start, n, itemCount)
		}
		sum += n
	}
	if sum != r[len(r)-1] {
		return 0, fmt.Errorf("%w: runs hold %d items, total says %d", ErrBadRange, sum, r[len(r)-1])
	}
	return sum, nil
}

func validateCounts(counts []int, itemCount int) error {
	sum := 0
	for _, c := range counts {
		if c < 0 {
			return fmt.Errorf("%w: negative count %d", ErrRangeMismatch, c)
		}
		sum += c
	}
	if sum != itemCount {
		return fmt.Errorf("%w: counts sum to %d, have %d items", ErrRangeMismatch, sum, itemCount)
	}
	return nil
}
