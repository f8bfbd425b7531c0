package localprovider

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestSealValue_RoundTrip(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	ciphertext, err := SealValue(km.PublicKey, 150)
	assert.NoError(t, err)

	value, err := openEnvelope(km.privateKey, ciphertext)
	assert.NoError(t, err)
	check.Equal(t, uint64(150), value)
}

func TestSealAmount_OpensToMinorUnits(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	ciphertext, err := SealAmount(km.PublicKey, "2.5031")
	assert.NoError(t, err)

	value, err := openEnvelope(km.privateKey, ciphertext)
	assert.NoError(t, err)
	check.Equal(t, uint64(25031), value)
}

func TestSealAmount_RejectsBadAmount(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	_, err = SealAmount(km.PublicKey, "-3")
	check.Error(t, err)
	_, err = SealAmount(km.PublicKey, "1.00001")
	check.Error(t, err)
}

func TestOpenEnvelope_RejectsTamperedCiphertext(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	ciphertext, err := SealValue(km.PublicKey, 150)
	assert.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = openEnvelope(km.privateKey, ciphertext)
	check.Error(t, err)
}

func TestOpenEnvelope_RejectsWrongKey(t *testing.T) {
	sealer, err := NewKeyManager()
	assert.NoError(t, err)
	other, err := NewKeyManager()
	assert.NoError(t, err)

	ciphertext, err := SealValue(sealer.PublicKey, 150)
	assert.NoError(t, err)

	_, err = openEnvelope(other.privateKey, ciphertext)
	check.Error(t, err)
}

func TestParsePublicKeyPEM_RoundTrip(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	pemText, err := km.PublicKeyPEM()
	assert.NoError(t, err)
	check.True(t, len(pemText) > 0)

	parsed, err := ParsePublicKeyPEM(pemText)
	assert.NoError(t, err)
	check.Equal(t, km.PublicKey.N.String(), parsed.N.String())
	check.Equal(t, km.PublicKey.E, parsed.E)
}

func TestParsePublicKeyPEM_RejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("not a pem block")
	check.Error(t, err)
}
