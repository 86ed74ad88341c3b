package repository

const (
	DefaultPage     = 1
	DefaultPageSize = 25
	MaxPageSize     = 100
	// MaxPage keeps OFFSET bounded for hand-edited query strings.
	MaxPage = 10_000
)

type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func normalizePageRequest(req PageRequest) PageRequest {
	switch {
	case req.Page < 1:
		req.Page = DefaultPage
	case req.Page > MaxPage:
		req.Page = MaxPage
	}
	switch {
	case req.PageSize < 1:
		req.PageSize = DefaultPageSize
	case req.PageSize > MaxPageSize:
		req.PageSize = MaxPageSize
	}
	return req
}

func (r PageRequest) offset() int {
	return (r.Page - 1) * r.PageSize
}

func calcTotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	size := int64(pageSize)
	pages := total / size
	if total%size > 0 {
		pages++
	}
	return int(pages)
}
