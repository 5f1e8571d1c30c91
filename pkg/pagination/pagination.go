package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Params is a validated page/limit pair from the query string.
type Params struct {
	Page  int
	Limit int
}

// Offset converts the page into a row offset for the database layer.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Parse reads page and limit query parameters, clamping the limit so a
// client cannot request unbounded result sets.
func Parse(c *gin.Context) Params {
	p := Params{Page: 1, Limit: defaultLimit}

	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		p.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		p.Limit = limit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}
