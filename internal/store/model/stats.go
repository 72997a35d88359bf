package model

type Stats struct {
	TotalPages     int64            `json:"total_pages"`
	MissingPages   int64            `json:"missing_pages"`
	DuplicateFiles int64            `json:"duplicate_files"`
	PagesByStatus  map[string]int64 `json:"pages_by_status"`
}
