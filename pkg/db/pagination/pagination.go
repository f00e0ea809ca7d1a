package pagination

// Page is an offset window over an ordered result set.
type Page struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

type PageInfo struct {
	TotalCount int64 `json:"total_count"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	HasMore    bool  `json:"has_more"`
}

// Normalize clamps the page to [1, maxLimit] and a non-negative offset.
func (p Page) Normalize(defaultLimit, maxLimit int) Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func BuildPageInfo(p Page, returned int, total int64) PageInfo {
	return PageInfo{
		TotalCount: total,
		Limit:      p.Limit,
		Offset:     p.Offset,
		HasMore:    int64(p.Offset+returned) < total,
	}
}
