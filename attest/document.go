// Package attest produces and verifies signed settlement receipts. A
// receipt is an AWS Nitro style attestation document wrapping the
// settlement outcome: a COSE_Sign1 envelope whose payload commits to the
// auction's public ledger through salted bid hashes. Inside an enclave the
// NSM signs the document; elsewhere a local ES384 attester stands in with
// a self-signed certificate and zeroed PCR measurements.
package attest

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ReceiptCOSE is a raw COSE_Sign1 settlement receipt. AWS Nitro emits the
// untagged 4-element form [protected, unprotected, payload, signature].
type ReceiptCOSE []byte

// ReceiptCOSEBase64 is a receipt in transport encoding.
type ReceiptCOSEBase64 string

// Document is the raw CBOR attestation document carried as the COSE
// payload. Field layout follows the AWS Nitro Security Module document.
type Document struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// PCRValues are the measurement registers as hex strings. Zeroed registers
// mean the document came from a debug enclave or a local attester.
type PCRValues struct {
	ImageFileHash   string `json:"pcr0"`
	KernelHash      string `json:"pcr1"`
	ApplicationHash string `json:"pcr2"`
}

// FormatPCR formats PCR bytes as a hex string.
func FormatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

// ExtractPCRs formats the registers relevant to image identity.
func (d *Document) ExtractPCRs() PCRValues {
	return PCRValues{
		ImageFileHash:   FormatPCR(d.PCRs[0]),
		KernelHash:      FormatPCR(d.PCRs[1]),
		ApplicationHash: FormatPCR(d.PCRs[2]),
	}
}

// EncodeBase64 encodes the receipt for transport.
func (r ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(r))
}

// Decode decodes a transport-encoded receipt.
func (r ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(r))
	if err != nil {
		return nil, fmt.Errorf("decode receipt base64: %w", err)
	}
	return ReceiptCOSE(raw), nil
}

// extractPayload returns element 2 of the COSE_Sign1 array.
func (r ReceiptCOSE) extractPayload() ([]byte, error) {
	var coseArray []any
	if err := cbor.Unmarshal(r, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}
	return payload, nil
}

// ParseDocument extracts and decodes the attestation document from the
// receipt. The raw user data bytes are returned alongside for callers that
// decode them into a typed structure.
func (r ReceiptCOSE) ParseDocument() (*Document, []byte, error) {
	payload, err := r.extractPayload()
	if err != nil {
		return nil, nil, err
	}

	var doc Document
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse attestation document: %w", err)
	}
	if doc.ModuleID == "" {
		return nil, nil, fmt.Errorf("attestation document missing module id")
	}
	if len(doc.UserData) == 0 {
		return nil, nil, fmt.Errorf("attestation document missing user data")
	}
	return &doc, doc.UserData, nil
}
