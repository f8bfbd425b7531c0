package localprovider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/blindauction/auctionapi"
)

// aesKeyBytes is the AES-256 key length used for envelope payloads.
const aesKeyBytes = 32

// sealedEnvelope is the hybrid RSA-OAEP + AES-256-GCM bid envelope, encoded
// as CBOR. The AES key is encrypted to the provider's RSA public key; the
// payload is encrypted and authenticated under that key.
type sealedEnvelope struct {
	KeyCiphertext []byte `cbor:"key_ciphertext"`
	Nonce         []byte `cbor:"nonce"`
	Payload       []byte `cbor:"payload"`
}

// bidPayload is the envelope plaintext. Exactly one of Amount and Value is
// set: Amount is a decimal amount string scaled to minor units on open,
// Value is a raw integer stored as-is.
type bidPayload struct {
	Amount string  `cbor:"amount,omitempty"`
	Value  *uint64 `cbor:"value,omitempty"`
}

// SealValue seals a raw integer bid value against the provider's public key.
func SealValue(pub *rsa.PublicKey, value uint64) ([]byte, error) {
	return seal(pub, bidPayload{Value: &value})
}

// SealAmount seals a decimal amount string such as "150" or "2.5031". The
// provider converts it to minor units when the envelope is opened.
func SealAmount(pub *rsa.PublicKey, amount string) ([]byte, error) {
	if _, err := auctionapi.ParseAmount(amount); err != nil {
		return nil, err
	}
	return seal(pub, bidPayload{Amount: amount})
}

func seal(pub *rsa.PublicKey, payload bidPayload) ([]byte, error) {
	plaintext, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	aesKey := make([]byte, aesKeyBytes)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	keyCiphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt AES key: %w", err)
	}

	envelope := sealedEnvelope{
		KeyCiphertext: keyCiphertext,
		Nonce:         nonce,
		Payload:       aesgcm.Seal(nil, nonce, plaintext, nil),
	}
	return cbor.Marshal(envelope)
}

// openEnvelope decrypts a sealed bid envelope and resolves its plaintext
// value in minor units.
func openEnvelope(privateKey *rsa.PrivateKey, ciphertext []byte) (uint64, error) {
	var envelope sealedEnvelope
	if err := cbor.Unmarshal(ciphertext, &envelope); err != nil {
		return 0, fmt.Errorf("failed to decode envelope: %w", err)
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, envelope.KeyCiphertext, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt AES key: %w", err)
	}
	if len(aesKey) != aesKeyBytes {
		return 0, fmt.Errorf("invalid AES key length: expected %d bytes, got %d", aesKeyBytes, len(aesKey))
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return 0, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return 0, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(envelope.Nonce) != aesgcm.NonceSize() {
		return 0, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", aesgcm.NonceSize(), len(envelope.Nonce))
	}

	plaintext, err := aesgcm.Open(nil, envelope.Nonce, envelope.Payload, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	var payload bidPayload
	if err := cbor.Unmarshal(plaintext, &payload); err != nil {
		return 0, fmt.Errorf("failed to decode payload: %w", err)
	}

	switch {
	case payload.Amount != "":
		return auctionapi.ParseAmount(payload.Amount)
	case payload.Value != nil:
		return *payload.Value, nil
	}
	return 0, fmt.Errorf("empty bid payload")
}
