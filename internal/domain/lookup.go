package domain

// EAN lookup replies. A reply is always one of these or a 12-13 digit code.
const (
	EANNotFound    = "EAN not found"
	EANSearchError = "Search error"
	EANConfigError = "Server configuration error"
)

// LookupRequest is the remote function request body.
// Each call carries the function arguments; the first one is the product title.
type LookupRequest struct {
	Calls [][]any `json:"calls"`
}

// LookupResponse is the remote function reply body, aligned with the calls
type LookupResponse struct {
	Replies []string `json:"replies"`
}

// LookupErrorResponse is returned when the request body itself is unusable
type LookupErrorResponse struct {
	ErrorMessage string `json:"errorMessage"`
}

// Titles returns the first argument of every call as a string.
// Missing or non-string arguments become an empty title so the slot is kept.
func (r LookupRequest) Titles() []string {
	titles := make([]string, len(r.Calls))
	for i, call := range r.Calls {
		if len(call) == 0 {
			continue
		}
		if s, ok := call[0].(string); ok {
			titles[i] = s
		}
	}
	return titles
}
