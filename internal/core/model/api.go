package model

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail builds an ErrorResponse
func Fail(msg string) ErrorResponse { return ErrorResponse{Success: false, Error: msg} }

// ListParams are the paging parameters shared by list endpoints
type ListParams struct {
	Offset int    `form:"offset"`
	Limit  int    `form:"limit"`
	Status string `form:"status"`
}

// Clamp applies the default page size and bounds
func (p *ListParams) Clamp() {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
}
