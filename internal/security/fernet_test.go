package security

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encryptFernet(t *testing.T, key *FernetKey, plaintext []byte) string {
	t.Helper()
	token, err := EncryptFernet(key, plaintext)
	require.NoError(t, err)
	return token
}

func TestDecryptFernetRoundTrip(t *testing.T) {
	key := DeriveFernetKey("password", "salt", 1000)

	token := encryptFernet(t, key, []byte(`{"license_key":"BOOT-X"}`))

	got, err := DecryptFernet(key, token)
	require.NoError(t, err)
	assert.Equal(t, `{"license_key":"BOOT-X"}`, string(got))
}

func TestDecryptFernetAcceptsUnpaddedToken(t *testing.T) {
	key := DeriveFernetKey("password", "salt", 1000)
	token := strings.TrimRight(encryptFernet(t, key, []byte("hello")), "=")

	got, err := DecryptFernet(key, token)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestDeriveFernetKeyMatchesFernetLayout(t *testing.T) {
	key := DeriveFernetKey("password", "salt", 1000)

	// A key exported in the standard url-safe encoding decrypts our tokens
	exported := fernet.MustDecodeKeys(base64.URLEncoding.EncodeToString(key.key[:]))
	token := encryptFernet(t, key, []byte("hello"))

	assert.Equal(t, "hello", string(fernet.VerifyAndDecrypt([]byte(token), -1, exported)))
}

func TestDecodeLicenseCode(t *testing.T) {
	key := DeriveFernetKey("password", "salt", 1000)
	code, err := EncodeLicenseCode(key, []byte(`{"a":1}`))
	require.NoError(t, err)

	// Codes pasted from email often carry line breaks
	wrapped := code[:20] + "\n" + code[20:]

	got, err := DecodeLicenseCode(key, wrapped)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
}

func TestDecryptFernetRejects(t *testing.T) {
	key := DeriveFernetKey("password", "salt", 1000)
	token := encryptFernet(t, key, []byte("hello"))
	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)

	flipped := append([]byte{}, raw...)
	flipped[20] ^= 0x01

	badVersion := append([]byte{}, raw...)
	badVersion[0] = 0x81

	tests := []struct {
		name  string
		key   *FernetKey
		token string
	}{
		{name: "wrong key", key: DeriveFernetKey("other", "salt", 1000), token: token},
		{name: "tampered body", key: key, token: base64.URLEncoding.EncodeToString(flipped)},
		{name: "bad version", key: key, token: base64.URLEncoding.EncodeToString(badVersion)},
		{name: "too short", key: key, token: base64.URLEncoding.EncodeToString(raw[:30])},
		{name: "not base64", key: key, token: "!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptFernet(tt.key, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
