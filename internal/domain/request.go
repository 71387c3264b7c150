package domain

import "time"

// RequestKind classifies an outstanding signing request.
type RequestKind string

const (
	RequestApprove     RequestKind = "approve"
	RequestOpenTrade   RequestKind = "open-trade"
	RequestCloseTrade  RequestKind = "close-trade"
	RequestCancelOrder RequestKind = "cancel-order"
)

// RequestStatus is the state of a tracked transaction.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestConfirmed RequestStatus = "confirmed"
	RequestTimedOut  RequestStatus = "timed_out"
	RequestError     RequestStatus = "error"
)

// PendingRequest is one outstanding signing/transaction call being watched
// for confirmations. A transaction hash belongs to exactly one chat.
type PendingRequest struct {
	TxHash      string
	ChatID      int64
	Kind        RequestKind
	Status      RequestStatus
	SubmittedAt time.Time
}

// Outcome is the terminal result of tracking a transaction. Exactly one
// outcome is reported per tracked hash.
type Outcome struct {
	TxHash        string
	ChatID        int64
	Kind          RequestKind
	Status        RequestStatus
	BlockNumber   uint64
	Confirmations uint64
	Err           error
}
