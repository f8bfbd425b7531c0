package auction

import "github.com/cloudx-io/blindauction/oblivious"

// EventKind labels journal events.
type EventKind string

const (
	EventBidSubmitted     EventKind = "bid_submitted"
	EventBidRevealed      EventKind = "bid_revealed"
	EventSettled          EventKind = "settled"
	EventDecryptGranted   EventKind = "decrypt_granted"
	EventDecryptRequested EventKind = "decrypt_requested"
	EventDecryptCompleted EventKind = "decrypt_completed"
)

// Event is one journal record. Events carry principals and handle tokens,
// never plaintext amounts; a leaked journal discloses participation and
// timing only.
//
// BidIndex is meaningful for bid and settlement events and -1 otherwise.
type Event struct {
	Seq       uint64              `cbor:"seq" json:"seq"`
	Kind      EventKind           `cbor:"kind" json:"kind"`
	AuctionID string              `cbor:"auction_id" json:"auction_id"`
	Height    BlockHeight         `cbor:"height" json:"height"`
	Principal oblivious.Principal `cbor:"principal,omitempty" json:"principal,omitempty"`
	Grantee   oblivious.Principal `cbor:"grantee,omitempty" json:"grantee,omitempty"`
	BidIndex  int                 `cbor:"bid_index" json:"bid_index"`
	Handle    string              `cbor:"handle,omitempty" json:"handle,omitempty"`
	RequestID string              `cbor:"request_id,omitempty" json:"request_id,omitempty"`
}

// Recorder sinks engine events. The journal package provides a durable
// implementation; a nil recorder keeps the engine purely in-memory.
//
// Record is called before the engine commits the event's state change: a
// recorder error aborts the operation.
type Recorder interface {
	Record(ev *Event) error
}
