package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"
)

// Attester signs attestation documents. Inside a Nitro enclave the NSM
// handle satisfies this directly.
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NewNitroAttester returns the NSM-backed attester, or an error outside an
// enclave.
func NewNitroAttester() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// LocalAttester signs documents with an ephemeral ES384 key and a
// self-signed certificate, producing the same COSE_Sign1 shape the NSM
// emits. PCR registers are zeroed, which marks receipts as unmeasured.
type LocalAttester struct {
	key     *ecdsa.PrivateKey
	certDER []byte
	module  string
}

// NewLocalAttester generates the signing key and certificate.
func NewLocalAttester() (*LocalAttester, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate certificate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "blindauction local attester"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create attester certificate: %w", err)
	}

	return &LocalAttester{
		key:     key,
		certDER: certDER,
		module:  "local-attester-" + uuid.NewString(),
	}, nil
}

// Attest builds a Nitro-shaped document around the options and signs it as
// an untagged COSE_Sign1.
func (a *LocalAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	var publicKey []byte
	if options.PublicKey != nil && !options.NoPublicKey {
		der, err := x509.MarshalPKIXPublicKey(options.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("marshal attested public key: %w", err)
		}
		publicKey = der
	}

	zeroPCR := func() []byte { return make([]byte, 48) }
	doc := Document{
		ModuleID:  a.module,
		Digest:    "SHA384",
		Timestamp: uint64(time.Now().UnixMilli()),
		PCRs: map[uint64][]byte{
			0: zeroPCR(),
			1: zeroPCR(),
			2: zeroPCR(),
			3: zeroPCR(),
			4: zeroPCR(),
			8: zeroPCR(),
		},
		Certificate: a.certDER,
		CABundle:    [][]byte{a.certDER},
		PublicKey:   publicKey,
		UserData:    options.UserData,
		Nonce:       options.Nonce,
	}

	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode attestation document: %w", err)
	}

	// Protected header: {1: -35}, alg ES384.
	protected, err := cbor.Marshal(map[int64]int64{1: -35})
	if err != nil {
		return nil, fmt.Errorf("encode protected header: %w", err)
	}

	// Sig_structure for COSE_Sign1 with empty external_aad.
	sigStructure, err := cbor.Marshal([]any{
		"Signature1",
		protected,
		[]byte{},
		payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal Sig_structure: %w", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, a.key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	signature, err := signer.Sign(rand.Reader, sigStructure)
	if err != nil {
		return nil, fmt.Errorf("sign attestation document: %w", err)
	}

	return cbor.Marshal([]any{
		protected,
		map[string]any{},
		payload,
		signature,
	})
}
