package models

// WhishRequest represents the standard request structure for Whish API
type WhishRequest struct {
	Amount      *float64 `json:"amount,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	Invoice     string   `json:"invoice,omitempty"`
}

// WhishResponse represents the standard response structure from Whish API
type WhishResponse struct {
	Status bool                   `json:"status"`
	Code   interface{}            `json:"code"`   // Can be string or null
	Dialog interface{}            `json:"dialog"` // Can be string, object, or null
	Extra  interface{}            `json:"extra"`
	Data   map[string]interface{} `json:"data"`
}

// Whish transfer states reported by the transfer status endpoint
const (
	WhishTransferSuccess = "success"
	WhishTransferFailed  = "failed"
	WhishTransferPending = "pending"
)
