package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage(t *testing.T) {
	list := []int{1, 2, 3, 4, 5, 6, 7}

	page, numPages := Page(list, 1, 3)
	assert.Equal(t, []int{1, 2, 3}, page)
	assert.Equal(t, 3, numPages)

	page, _ = Page(list, 3, 3)
	assert.Equal(t, []int{7}, page, "last page holds the remainder")

	page, _ = Page(list, 99, 3)
	assert.Equal(t, []int{7}, page, "past-the-end clamps to the last page")

	page, _ = Page(list, 0, 3)
	assert.Equal(t, []int{1, 2, 3}, page, "page zero clamps to the first page")
}

func TestPageEmptyList(t *testing.T) {
	page, numPages := Page([]string(nil), 1, 20)
	assert.Empty(t, page)
	assert.Equal(t, 1, numPages)
}

func TestPageArray(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, PageArray(1, 3, 10), "fewer pages than the window")
	assert.Equal(t, []int{1, 2, 3, 4}, PageArray(1, 20, 4))
	assert.Equal(t, []int{8, 9, 10, 11}, PageArray(10, 20, 4), "window centers on the current page")
	assert.Equal(t, []int{17, 18, 19, 20}, PageArray(20, 20, 4), "window clamps at the end")
}
