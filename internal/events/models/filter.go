package models

import "time"

// ListFilter narrows the public catalogue.
type ListFilter struct {
	From   time.Time
	Query  string
	Limit  int
	Offset int
}

func (f ListFilter) PageSize() int {
	if f.Limit <= 0 || f.Limit > 100 {
		return 20
	}
	return f.Limit
}
