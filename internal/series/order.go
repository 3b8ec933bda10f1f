package series

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// DuplicatePageError is a non-fatal warning: several files claim the same page number
type DuplicatePageError struct {
	Page  int
	Files []string
}

func (e *DuplicatePageError) Error() string {
	return fmt.Sprintf("page %d appears %d times (%s), keeping directory order", e.Page, len(e.Files), strings.Join(e.Files, ", "))
}

// Order returns the files of s sorted by page number. Equal or missing page
// numbers fall back to enumeration index so the order is total and repeatable.
// The series itself is left untouched.
func Order(s *Series) ([]SourceFile, []error) {
	files := slices.Clone(s.Files)
	slices.SortStableFunc(files, func(a, b SourceFile) int {
		if c := cmp.Compare(a.SortPage(), b.SortPage()); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	var warnings []error
	for i := 0; i < len(files); {
		j := i + 1
		for j < len(files) && files[j].SortPage() == files[i].SortPage() {
			j++
		}
		if j-i > 1 {
			dup := &DuplicatePageError{Page: files[i].SortPage()}
			for _, f := range files[i:j] {
				dup.Files = append(dup.Files, f.Name())
			}
			warnings = append(warnings, dup)
		}
		i = j
	}

	return files, warnings
}
