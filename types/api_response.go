package types

// PageInfo contains pagination information for list responses.
type PageInfo struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// PaginatedResponse is a helper for paginated data responses.
type PaginatedResponse struct {
	Items      interface{} `json:"items"`
	Pagination *PageInfo   `json:"pagination"`
}
