package series

import (
	"fmt"
	"slices"
	"strings"
)

// MaxListedMissing bounds how many missing page numbers are listed. A page
// number like 20240101 would otherwise produce millions of entries.
const MaxListedMissing = 50

// MissingPagesError reports gaps in a numbered series. Gaps are tolerated; callers surface this as a warning.
type MissingPagesError struct {
	// Pages lists the first MaxListedMissing missing page numbers
	Pages []int
	// Total counts every missing page, listed or not
	Total int
}

func (e *MissingPagesError) Error() string {
	nums := make([]string, len(e.Pages))
	for i, p := range e.Pages {
		nums[i] = fmt.Sprintf("%d", p)
	}
	msg := fmt.Sprintf("series is not contiguous, missing page(s) %s", strings.Join(nums, ", "))
	if more := e.Total - len(e.Pages); more > 0 {
		msg += fmt.Sprintf(" and %d more", more)
	}
	return msg
}

// MissingPages lists page numbers absent between the lowest and highest numbered
// page of files, at most MaxListedMissing of them. Files without a page number are ignored.
func MissingPages(files []SourceFile) []int {
	listed, _ := missingPages(files)
	return listed
}

// missingPages walks the gaps between consecutive present pages, so the work
// is bounded by the file count rather than the page range
func missingPages(files []SourceFile) (listed []int, total int) {
	var pages []int
	for _, f := range files {
		if f.HasPage {
			pages = append(pages, f.Page)
		}
	}
	slices.Sort(pages)
	pages = slices.Compact(pages)

	for i := 1; i < len(pages); i++ {
		lo, hi := pages[i-1], pages[i]
		total += hi - lo - 1
		for p := lo + 1; p < hi && len(listed) < MaxListedMissing; p++ {
			listed = append(listed, p)
		}
	}
	return listed, total
}

// Validate returns a MissingPagesError when files has gaps, nil otherwise
func Validate(files []SourceFile) error {
	if listed, total := missingPages(files); total > 0 {
		return &MissingPagesError{Pages: listed, Total: total}
	}
	return nil
}
