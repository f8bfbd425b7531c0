// Package auctionapi defines the wire contract between auctiond and its
// clients. Requests and responses are JSON; encrypted material travels as
// base64 strings and handles travel as opaque tokens.
package auctionapi

// Request type discriminators. Every request carries one in its "type" field.
const (
	TypeSubmitBid       = "submit_bid"
	TypeRevealBid       = "reveal_bid"
	TypeSettle          = "settle"
	TypeGrantDecrypt    = "grant_decrypt"
	TypeIsAuthorized    = "is_authorized"
	TypeDecryptRequest  = "decrypt_request"
	TypeDecryptCallback = "decrypt_callback"
	TypeKeyRequest      = "key_request"
	TypeStatus          = "status"
)

// BaseRequest carries only the discriminator, decoded first to route the
// full request.
type BaseRequest struct {
	Type string `json:"type"`
}

// SubmitBidRequest places a sealed bid. The ciphertext is the sealed bid
// envelope; the proof is the single-use bid token issued by key_request.
type SubmitBidRequest struct {
	Type             string `json:"type"`
	Principal        string `json:"principal"`
	CiphertextBase64 string `json:"ciphertext_base64"`
	ProofBase64      string `json:"proof_base64"`
}

// SubmitBidResponse reports the ledger position assigned to the bid. The
// bid amount never appears in the response.
type SubmitBidResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	BidIndex int    `json:"bid_index,omitempty"`
	Handle   string `json:"handle,omitempty"`
}

// RevealBidRequest marks the caller's most recent unrevealed bid as revealed.
type RevealBidRequest struct {
	Type      string `json:"type"`
	Principal string `json:"principal"`
}

// RevealBidResponse reports which ledger position was revealed.
type RevealBidResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	BidIndex int    `json:"bid_index,omitempty"`
}

// SettleRequest runs settlement. Only the configured seller may settle.
type SettleRequest struct {
	Type      string `json:"type"`
	Principal string `json:"principal"`
}

// SettleResponse names the winner and the opaque handle of the winning
// amount. When the server carries an attester it also returns a signed
// settlement receipt.
type SettleResponse struct {
	Type                string `json:"type"`
	Success             bool   `json:"success"`
	Error               string `json:"error,omitempty"`
	Winner              string `json:"winner,omitempty"`
	WinnerIndex         int    `json:"winner_index,omitempty"`
	WinningHandle       string `json:"winning_handle,omitempty"`
	BidCount            int    `json:"bid_count,omitempty"`
	SettledAt           uint64 `json:"settled_at,omitempty"`
	ReceiptCOSEBase64   string `json:"receipt_cose_base64,omitempty"`
	ReceiptBidHashNonce string `json:"receipt_bid_hash_nonce,omitempty"`
}

// GrantDecryptRequest grants or refreshes decrypt permission on a handle.
// A nil expiry height makes the grant permanent.
type GrantDecryptRequest struct {
	Type         string  `json:"type"`
	Owner        string  `json:"owner"`
	Grantee      string  `json:"grantee"`
	Handle       string  `json:"handle"`
	ExpiryHeight *uint64 `json:"expiry_height,omitempty"`
}

// GrantDecryptResponse acknowledges the grant.
type GrantDecryptResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IsAuthorizedRequest queries the live grant between two principals.
type IsAuthorizedRequest struct {
	Type    string `json:"type"`
	Owner   string `json:"owner"`
	Grantee string `json:"grantee"`
}

// IsAuthorizedResponse reports whether an unexpired grant exists now.
type IsAuthorizedResponse struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Authorized bool   `json:"authorized"`
}

// DecryptRequestRequest asks the engine to start an asynchronous decrypt of
// a handle on behalf of the requester.
type DecryptRequestRequest struct {
	Type      string `json:"type"`
	Handle    string `json:"handle"`
	Requester string `json:"requester"`
}

// DecryptRequestResponse returns the relayer request id.
type DecryptRequestResponse struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// DecryptCallbackRequest delivers a relayer decrypt result back to the
// engine. Plaintext is in minor units.
type DecryptCallbackRequest struct {
	Type      string `json:"type"`
	Handle    string `json:"handle"`
	Plaintext uint64 `json:"plaintext"`
}

// DecryptCallbackResponse acknowledges the callback. Amount is the
// plaintext rendered back into decimal units.
type DecryptCallbackResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// KeyRequest fetches the provider's sealing key and a fresh single-use bid
// token for one submission.
type KeyRequest struct {
	Type string `json:"type"`
}

// KeyResponse carries the RSA public key in PEM form and the bid token to
// present as the ingestion proof.
type KeyResponse struct {
	Type         string `json:"type"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	PublicKeyPEM string `json:"public_key_pem,omitempty"`
	BidToken     string `json:"bid_token,omitempty"`
}

// StatusRequest queries auction phase and progress.
type StatusRequest struct {
	Type string `json:"type"`
}

// StatusResponse reports the live auction state. CurrentMaxHandle is the
// opaque running maximum; its value is not derivable from the token.
type StatusResponse struct {
	Type             string `json:"type"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	AuctionID        string `json:"auction_id"`
	Phase            string `json:"phase"`
	Height           uint64 `json:"height"`
	BidDeadline      uint64 `json:"bid_deadline"`
	RevealDeadline   uint64 `json:"reveal_deadline"`
	BidCount         int    `json:"bid_count"`
	CurrentMaxHandle string `json:"current_max_handle"`
	Settled          bool   `json:"settled"`
}

// ErrorResponse is returned for unroutable or malformed requests.
type ErrorResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
