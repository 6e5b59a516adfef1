package types

// Common response envelopes shared across the HTTP surface.

// ErrorResponse is the error envelope returned for failed requests.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse is a minimal acknowledgement envelope.
type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
