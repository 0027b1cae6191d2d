package scanner

import (
	"errors"
	"fmt"
)

// IDRange is an inclusive range of token IDs.
type IDRange struct {
	First uint64
	Last  uint64
}

// Upto returns the range [1..n].
func Upto(n uint64) IDRange {
	return IDRange{First: 1, Last: n}
}

// Validate checks that the range is non-empty and starts at 1 or above.
func (r IDRange) Validate() error {
	if r.First == 0 {
		return errors.New("token ids start at 1")
	}
	if r.Last < r.First {
		return fmt.Errorf("empty id range [%d..%d]", r.First, r.Last)
	}
	return nil
}

// Len returns the number of IDs in the range.
func (r IDRange) Len() int {
	if r.Last < r.First {
		return 0
	}
	return int(r.Last-r.First) + 1
}

// Pages splits the range into consecutive sub-ranges of at most size IDs.
// A non-positive size yields the whole range as one page.
func (r IDRange) Pages(size int) []IDRange {
	if r.Len() == 0 {
		return nil
	}
	if size <= 0 || size >= r.Len() {
		return []IDRange{r}
	}

	pages := make([]IDRange, 0, (r.Len()+size-1)/size)
	for first := r.First; first <= r.Last; {
		last := first + uint64(size) - 1
		if last > r.Last || last < first {
			last = r.Last
		}
		pages = append(pages, IDRange{First: first, Last: last})
		if last == r.Last {
			break
		}
		first = last + 1
	}
	return pages
}

func (r IDRange) String() string {
	return fmt.Sprintf("[%d..%d]", r.First, r.Last)
}
