package attest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/blindauction/auction"
)

// SettlementUserData is the receipt payload's user data: the settlement
// outcome plus a salted hash of every ledger row. Amounts never appear;
// the winning value stays behind its handle token.
type SettlementUserData struct {
	AuctionID      string    `json:"auction_id"`
	Winner         string    `json:"winner"`
	WinnerIndex    int       `json:"winner_index"`
	BidCount       int       `json:"bid_count"`
	BidHashes      []string  `json:"bid_hashes"`
	BidHashNonce   string    `json:"bid_hash_nonce"`
	Reserve        uint64    `json:"reserve"`
	BidDeadline    uint64    `json:"bid_deadline"`
	RevealDeadline uint64    `json:"reveal_deadline"`
	SettledAt      uint64    `json:"settled_at"`
	WinningHandle  string    `json:"winning_handle"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReceiptParams collects everything a settlement receipt commits to.
type ReceiptParams struct {
	AuctionID      string
	Reserve        uint64
	BidDeadline    auction.BlockHeight
	RevealDeadline auction.BlockHeight
	Settlement     auction.Settlement
	Bids           []auction.Bid
}

// ComputeBidHash computes the salted commitment for one ledger row. The
// same function runs on both sides: the attester when building a receipt
// and the validator when checking one.
func ComputeBidHash(auctionID string, index int, principal, handleToken string, submittedAt uint64, nonce string) string {
	data := fmt.Sprintf("%s|%d|%s|%d|%s|%s", auctionID, index, principal, submittedAt, handleToken, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// BuildSettlementReceipt hashes the ledger, assembles the user data, and
// has the attester sign it. The returned user data echoes what went into
// the receipt so callers can surface the bid hash nonce.
func BuildSettlementReceipt(attester Attester, params ReceiptParams) (ReceiptCOSE, *SettlementUserData, error) {
	if attester == nil {
		return nil, nil, fmt.Errorf("attester is nil")
	}

	bidHashNonce, err := generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate bid hash nonce: %w", err)
	}

	bidHashes := make([]string, 0, len(params.Bids))
	for i, bid := range params.Bids {
		bidHashes = append(bidHashes, ComputeBidHash(
			params.AuctionID, i,
			string(bid.Principal), bid.Handle.Token(), uint64(bid.SubmittedAt),
			bidHashNonce))
	}

	userData := &SettlementUserData{
		AuctionID:      params.AuctionID,
		Winner:         string(params.Settlement.Winner),
		WinnerIndex:    int(params.Settlement.WinnerIndex),
		BidCount:       params.Settlement.BidCount,
		BidHashes:      bidHashes,
		BidHashNonce:   bidHashNonce,
		Reserve:        params.Reserve,
		BidDeadline:    uint64(params.BidDeadline),
		RevealDeadline: uint64(params.RevealDeadline),
		SettledAt:      uint64(params.Settlement.SettledAt),
		WinningHandle:  params.Settlement.WinningHandle.Token(),
		Timestamp:      time.Now(),
	}

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal user data: %w", err)
	}
	requestNonce, err := generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	receipt, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(requestNonce),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("attestation failed: %w", err)
	}

	return ReceiptCOSE(receipt), userData, nil
}
