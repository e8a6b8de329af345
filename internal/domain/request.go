package domain

import "time"

// RequestStatus is the observable state of one tracked ledger write.
type RequestStatus string

const (
	RequestIdle      RequestStatus = "idle"
	RequestLoading   RequestStatus = "loading"
	RequestSucceeded RequestStatus = "succeeded"
	RequestConfirmed RequestStatus = "confirmed"
	RequestFailed    RequestStatus = "failed"
)

// Terminal reports whether the status only leaves via an explicit reset.
func (s RequestStatus) Terminal() bool {
	return s == RequestConfirmed || s == RequestFailed
}

// RequestState is what observers of a request lifecycle see.
type RequestState struct {
	Status    RequestStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	TxHash    string        `json:"tx_hash,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
