package attest

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/blindauction/auction"
	"github.com/cloudx-io/blindauction/oblivious"
)

// mockAttester implements Attest for failure injection.
type mockAttester struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *mockAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func testReceiptParams() ReceiptParams {
	return ReceiptParams{
		AuctionID:      "auction-1",
		Reserve:        50,
		BidDeadline:    10,
		RevealDeadline: 20,
		Settlement: auction.Settlement{
			Winner:        "bidder_b",
			WinnerIndex:   1,
			WinningHandle: oblivious.MintHandle(9, oblivious.Width32),
			BidCount:      3,
			SettledAt:     21,
		},
		Bids: []auction.Bid{
			{Principal: "bidder_a", Handle: oblivious.MintHandle(2, oblivious.Width32), SubmittedAt: 1},
			{Principal: "bidder_b", Handle: oblivious.MintHandle(3, oblivious.Width32), SubmittedAt: 2},
			{Principal: "bidder_c", Handle: oblivious.MintHandle(4, oblivious.Width32), SubmittedAt: 3},
		},
	}
}

func evidenceFor(params ReceiptParams, receipt ReceiptCOSE) Evidence {
	bids := make([]EvidenceBid, len(params.Bids))
	for i, b := range params.Bids {
		bids[i] = EvidenceBid{
			Principal:   string(b.Principal),
			Handle:      b.Handle.Token(),
			SubmittedAt: uint64(b.SubmittedAt),
		}
	}
	return Evidence{
		AuctionID:   params.AuctionID,
		Receipt:     receipt.EncodeBase64(),
		Winner:      string(params.Settlement.Winner),
		WinnerIndex: int(params.Settlement.WinnerIndex),
		Bids:        bids,
	}
}

func TestLocalAttester_DocumentShape(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	userData := []byte(`{"hello":"world"}`)
	nonce := []byte("abc123")
	raw, err := attester.Attest(enclave.AttestationOptions{UserData: userData, Nonce: nonce})
	assert.NoError(t, err)

	doc, gotUserData, err := ReceiptCOSE(raw).ParseDocument()
	assert.NoError(t, err)
	check.Equal(t, "SHA384", doc.Digest)
	check.Equal(t, userData, gotUserData)
	check.Equal(t, nonce, doc.Nonce)
	check.NotEqual(t, "", doc.ModuleID)
	assert.Equal(t, 1, len(doc.CABundle))
	check.Equal(t, doc.Certificate, doc.CABundle[0])

	// Local attestation carries zeroed measurement registers.
	pcrs := doc.ExtractPCRs()
	check.Equal(t, FormatPCR(make([]byte, 48)), pcrs.ImageFileHash)
	check.Equal(t, pcrs.ImageFileHash, pcrs.KernelHash)

	check.NoError(t, VerifySignature(ReceiptCOSE(raw), doc.Certificate))
}

func TestBuildSettlementReceipt_VerifiesEndToEnd(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	params := testReceiptParams()
	receipt, userData, err := BuildSettlementReceipt(attester, params)
	assert.NoError(t, err)
	check.Equal(t, params.AuctionID, userData.AuctionID)
	check.Equal(t, "bidder_b", userData.Winner)
	check.Equal(t, 3, len(userData.BidHashes))
	check.NotEqual(t, "", userData.BidHashNonce)
	check.Equal(t, "32:9", userData.WinningHandle)

	result, gotUserData, err := VerifySettlementReceipt(evidenceFor(params, receipt))
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.True(t, result.CertificateValid)
	check.True(t, result.BidHashesValid)
	check.True(t, result.OutcomeValid)
	check.True(t, result.IsValid())
	check.False(t, result.Measured)
	check.Equal(t, userData.BidHashNonce, gotUserData.BidHashNonce)
}

func TestVerifySettlementReceipt_DetectsTamperedLedger(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	params := testReceiptParams()
	receipt, _, err := BuildSettlementReceipt(attester, params)
	assert.NoError(t, err)

	ev := evidenceFor(params, receipt)
	ev.Bids[0].Principal = "someone_else"

	result, _, err := VerifySettlementReceipt(ev)
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.False(t, result.BidHashesValid)
	check.False(t, result.IsValid())
}

func TestVerifySettlementReceipt_DetectsForgedOutcome(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	params := testReceiptParams()
	receipt, _, err := BuildSettlementReceipt(attester, params)
	assert.NoError(t, err)

	ev := evidenceFor(params, receipt)
	ev.Winner = "bidder_a"
	ev.WinnerIndex = 0

	result, _, err := VerifySettlementReceipt(ev)
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.True(t, result.BidHashesValid)
	check.False(t, result.OutcomeValid)
	check.False(t, result.IsValid())
}

func TestVerifySettlementReceipt_DetectsTamperedSignature(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	params := testReceiptParams()
	receipt, _, err := BuildSettlementReceipt(attester, params)
	assert.NoError(t, err)

	var coseArray []any
	assert.NoError(t, cbor.Unmarshal(receipt, &coseArray))
	signature := coseArray[3].([]byte)
	signature[0] ^= 0xff
	tampered, err := cbor.Marshal(coseArray)
	assert.NoError(t, err)

	ev := evidenceFor(params, ReceiptCOSE(tampered))
	result, _, err := VerifySettlementReceipt(ev)
	assert.NoError(t, err)
	check.False(t, result.SignatureValid)
	check.False(t, result.IsValid())
}

// resignWithPCR0 rebuilds the receipt's document with a nonzero PCR0 and
// re-signs it with the attester's own key, producing a receipt that claims
// to be measured.
func resignWithPCR0(t *testing.T, attester *LocalAttester, receipt ReceiptCOSE) ReceiptCOSE {
	t.Helper()

	doc, _, err := receipt.ParseDocument()
	assert.NoError(t, err)
	doc.PCRs[0] = bytes.Repeat([]byte{0xab}, 48)

	payload, err := cbor.Marshal(doc)
	assert.NoError(t, err)
	protected, err := cbor.Marshal(map[int64]int64{1: -35})
	assert.NoError(t, err)
	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, attester.key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, sigStructure)
	assert.NoError(t, err)

	raw, err := cbor.Marshal([]any{protected, map[string]any{}, payload, signature})
	assert.NoError(t, err)
	return ReceiptCOSE(raw)
}

func TestVerifySettlementReceipt_MeasuredClaimRequiresNitroRoot(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	params := testReceiptParams()
	receipt, _, err := BuildSettlementReceipt(attester, params)
	assert.NoError(t, err)

	measured := resignWithPCR0(t, attester, receipt)
	result, _, err := VerifySettlementReceipt(evidenceFor(params, measured))
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.True(t, result.Measured)
	// The self-signed bundle does not chain to the pinned AWS root.
	check.False(t, result.CertificateValid)
	check.False(t, result.IsValid())
}

func TestValidateNitroCertificateChain_RejectsSelfSignedBundle(t *testing.T) {
	attester, err := NewLocalAttester()
	assert.NoError(t, err)

	raw, err := attester.Attest(enclave.AttestationOptions{UserData: []byte("{}")})
	assert.NoError(t, err)
	doc, _, err := ReceiptCOSE(raw).ParseDocument()
	assert.NoError(t, err)

	at := time.UnixMilli(int64(doc.Timestamp))
	check.NoError(t, ValidateCertificateChain(doc.Certificate, doc.CABundle, at))
	check.Error(t, ValidateNitroCertificateChain(doc.Certificate, doc.CABundle, at))
}

func TestBuildSettlementReceipt_AttesterFailure(t *testing.T) {
	attester := &mockAttester{
		AttestFunc: func(enclave.AttestationOptions) ([]byte, error) {
			return nil, fmt.Errorf("NSM not available")
		},
	}

	_, _, err := BuildSettlementReceipt(attester, testReceiptParams())
	check.Error(t, err)

	_, _, err = BuildSettlementReceipt(nil, testReceiptParams())
	check.Error(t, err)
}

func TestComputeBidHash_CommitsToEveryField(t *testing.T) {
	base := ComputeBidHash("auction-1", 0, "bidder_a", "32:2", 1, "nonce")

	check.Equal(t, base, ComputeBidHash("auction-1", 0, "bidder_a", "32:2", 1, "nonce"))
	check.NotEqual(t, base, ComputeBidHash("auction-2", 0, "bidder_a", "32:2", 1, "nonce"))
	check.NotEqual(t, base, ComputeBidHash("auction-1", 1, "bidder_a", "32:2", 1, "nonce"))
	check.NotEqual(t, base, ComputeBidHash("auction-1", 0, "bidder_b", "32:2", 1, "nonce"))
	check.NotEqual(t, base, ComputeBidHash("auction-1", 0, "bidder_a", "32:3", 1, "nonce"))
	check.NotEqual(t, base, ComputeBidHash("auction-1", 0, "bidder_a", "32:2", 2, "nonce"))
	check.NotEqual(t, base, ComputeBidHash("auction-1", 0, "bidder_a", "32:2", 1, "other"))
}

func TestReceiptCOSEBase64_DecodeRejectsGarbage(t *testing.T) {
	_, err := ReceiptCOSEBase64("not base64 !!!").Decode()
	check.Error(t, err)

	_, _, err = ReceiptCOSE([]byte("not cbor")).ParseDocument()
	check.Error(t, err)
}
