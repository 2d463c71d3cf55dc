package audit

import "time"

// TimelineFilters holds the query filters for the audit trail.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    int64
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one entry of the audit trail.
type TimelineRow struct {
	At       time.Time
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}
