package types

// SuccessEnvelope wraps every successful API payload.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope wraps every API error payload.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// APIError carries the public error code, message, and optional details.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
