// Package util holds small helpers shared by frontends built on the
// orchestrator.
package util

// Page returns the 1-based page of list with the given page size, together
// with the total number of pages. Out-of-range pages clamp to the nearest
// valid page; an empty list yields an empty page and one page total.
func Page[T any](list []T, page, pageSize int) ([]T, int) {
	if pageSize <= 0 {
		pageSize = 1
	}
	numPages := (len(list) + pageSize - 1) / pageSize
	if numPages == 0 {
		numPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > numPages {
		page = numPages
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, len(list))
	return list[start:end], numPages
}

// PageArray returns the page numbers to render in a pagination control: a
// window of up to windowSize pages centered on the current page.
func PageArray(page, numPages, windowSize int) []int {
	if windowSize <= 0 {
		windowSize = 10
	}
	first := page - windowSize/2
	if first > numPages-windowSize+1 {
		first = numPages - windowSize + 1
	}
	if first < 1 {
		first = 1
	}
	last := min(first+windowSize-1, numPages)

	pages := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}
	return pages
}
