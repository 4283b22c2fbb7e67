package audit

import "time"

// TimelineFilters holds the basic filters of the audit timeline. Zero values match
// everything.
type TimelineFilters struct {
	From         time.Time
	To           time.Time
	ActorID      int64
	ResourceType string
	ResourceID   string
	Action       string
	Page         int
	PageSize     int
}

// TimelineQuery is the repository form of TimelineFilters.
type TimelineQuery struct {
	From         time.Time
	To           time.Time
	ActorID      int64
	ResourceType string
	ResourceID   string
	Action       string
	Offset       int
	Limit        int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []Record   `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
