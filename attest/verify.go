package attest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Evidence is the public record a receipt is checked against: the receipt
// itself plus the ledger rows its bid hashes commit to. Everything here is
// observable without any decrypt permission.
type Evidence struct {
	AuctionID   string            `json:"auction_id"`
	Receipt     ReceiptCOSEBase64 `json:"receipt_cose_base64"`
	Winner      string            `json:"winner"`
	WinnerIndex int               `json:"winner_index"`
	Bids        []EvidenceBid     `json:"bids"`
}

// EvidenceBid is one public ledger row.
type EvidenceBid struct {
	Principal   string `json:"principal"`
	Handle      string `json:"handle"`
	SubmittedAt uint64 `json:"submitted_at"`
}

// VerificationResult reports each receipt check separately so a caller can
// distinguish a bad signature from a ledger mismatch.
type VerificationResult struct {
	SignatureValid    bool
	CertificateValid  bool
	BidHashesValid    bool
	OutcomeValid      bool
	Measured          bool
	ValidationDetails []string
}

// IsValid returns true if all checks passed. Measured is advisory: local
// attester receipts are valid but carry zeroed PCR registers.
func (r *VerificationResult) IsValid() bool {
	return r.SignatureValid && r.CertificateValid && r.BidHashesValid && r.OutcomeValid
}

func (r *VerificationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// VerifySignature checks the receipt's COSE_Sign1 signature against the
// certificate embedded in its own payload.
func VerifySignature(receipt ReceiptCOSE, certDER []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	// Untagged COSE_Sign1: [protected, unprotected, payload, signature].
	var coseArray []any
	if err := cbor.Unmarshal(receipt, &coseArray); err != nil {
		return fmt.Errorf("parse COSE array: %w", err)
	}
	if len(coseArray) != 4 {
		return fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protectedBytes, ok := coseArray[0].([]byte)
	if !ok {
		return fmt.Errorf("invalid protected headers")
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return fmt.Errorf("invalid payload")
	}
	signature, ok := coseArray[3].([]byte)
	if !ok {
		return fmt.Errorf("invalid signature")
	}

	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// Sig_structure for COSE_Sign1 with empty external_aad.
	sigStructureBytes, err := cbor.Marshal([]any{
		"Signature1",
		protectedBytes,
		[]byte{},
		payload,
	})
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructureBytes, signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}

// ValidateCertificateChain verifies the signing certificate against the
// document's CA bundle at the attestation timestamp. Self-signed attester
// certificates appear in their own bundle and act as their own root.
func ValidateCertificateChain(certDER []byte, caBundle [][]byte, at time.Time) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	roots := x509.NewCertPool()
	intermediates := x509.NewCertPool()
	for _, caDER := range caBundle {
		caCert, err := x509.ParseCertificate(caDER)
		if err != nil {
			return fmt.Errorf("parse CA certificate: %w", err)
		}
		intermediates.AddCert(caCert)
		if bytes.Equal(caCert.RawIssuer, caCert.RawSubject) {
			roots.AddCert(caCert)
		}
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate chain validation failed: %w", err)
	}
	return nil
}

// VerifySettlementReceipt checks a receipt against the public evidence:
// signature, certificate chain, salted bid hashes, and the claimed outcome.
// The parsed user data is returned for display regardless of validity.
func VerifySettlementReceipt(ev Evidence) (*VerificationResult, *SettlementUserData, error) {
	receipt, err := ev.Receipt.Decode()
	if err != nil {
		return nil, nil, err
	}

	doc, userDataBytes, err := receipt.ParseDocument()
	if err != nil {
		return nil, nil, err
	}

	var userData SettlementUserData
	if err := json.Unmarshal(userDataBytes, &userData); err != nil {
		return nil, nil, fmt.Errorf("parse receipt user data: %w", err)
	}

	result := &VerificationResult{
		ValidationDetails: []string{},
	}

	if err := VerifySignature(receipt, doc.Certificate); err != nil {
		result.detail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	pcrs := doc.ExtractPCRs()
	result.Measured = pcrs.ImageFileHash != FormatPCR(make([]byte, 48))
	if result.Measured {
		result.detail("PCR registers present (PCR0: %s)", pcrs.ImageFileHash)
	} else {
		result.detail("PCR registers zeroed: unmeasured local attester")
	}

	// A measured document must chain to the AWS Nitro root; an unmeasured
	// one is anchored by the self-signed certificate in its own bundle.
	signedAt := time.UnixMilli(int64(doc.Timestamp))
	switch {
	case len(doc.Certificate) == 0:
		result.detail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.detail("Missing CA bundle")
	case result.Measured:
		if err := ValidateNitroCertificateChain(doc.Certificate, doc.CABundle, signedAt); err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified against AWS Nitro root")
		}
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, signedAt); err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	result.BidHashesValid = verifyBidHashes(result, ev, &userData)
	result.OutcomeValid = verifyOutcome(result, ev, &userData)

	return result, &userData, nil
}

// verifyBidHashes recomputes every ledger commitment under the receipt's
// nonce.
func verifyBidHashes(result *VerificationResult, ev Evidence, userData *SettlementUserData) bool {
	if len(userData.BidHashes) != len(ev.Bids) {
		result.detail("Bid hash count mismatch: receipt has %d, evidence has %d", len(userData.BidHashes), len(ev.Bids))
		return false
	}
	for i, bid := range ev.Bids {
		want := ComputeBidHash(userData.AuctionID, i, bid.Principal, bid.Handle, bid.SubmittedAt, userData.BidHashNonce)
		if userData.BidHashes[i] != want {
			result.detail("Bid hash mismatch at index %d", i)
			return false
		}
	}
	result.detail("All %d bid hashes verified", len(ev.Bids))
	return true
}

// verifyOutcome checks the receipt's claimed outcome against the evidence.
func verifyOutcome(result *VerificationResult, ev Evidence, userData *SettlementUserData) bool {
	ok := true
	if userData.AuctionID != ev.AuctionID {
		result.detail("Auction ID mismatch: receipt %q, evidence %q", userData.AuctionID, ev.AuctionID)
		ok = false
	}
	if userData.Winner != ev.Winner {
		result.detail("Winner mismatch: receipt %q, evidence %q", userData.Winner, ev.Winner)
		ok = false
	}
	if userData.WinnerIndex != ev.WinnerIndex {
		result.detail("Winner index mismatch: receipt %d, evidence %d", userData.WinnerIndex, ev.WinnerIndex)
		ok = false
	}
	if userData.BidCount != len(ev.Bids) {
		result.detail("Bid count mismatch: receipt %d, evidence %d", userData.BidCount, len(ev.Bids))
		ok = false
	}
	if userData.WinnerIndex < 0 || userData.WinnerIndex >= userData.BidCount {
		result.detail("Winner index %d out of range", userData.WinnerIndex)
		ok = false
	}
	if ok {
		result.detail("Settlement outcome matches evidence")
	}
	return ok
}
