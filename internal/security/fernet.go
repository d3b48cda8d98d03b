package security

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// CodeKDFIterations is the PBKDF2 cost used for license code keys
const CodeKDFIterations = 100000

// ErrInvalidToken covers every malformed or unauthenticated token
var ErrInvalidToken = errors.New("invalid token")

// FernetKey is a 32-byte Fernet key: signing half first, encryption half second
type FernetKey struct {
	key fernet.Key
}

// DeriveFernetKey derives a key with PBKDF2-HMAC-SHA256
func DeriveFernetKey(password, salt string, iterations int) *FernetKey {
	k := &FernetKey{}
	copy(k.key[:], pbkdf2.Key([]byte(password), []byte(salt), iterations, len(k.key), sha256.New))
	return k
}

// DecryptFernet verifies and decrypts a url-safe base64 Fernet token.
// Tokens never expire.
func DecryptFernet(key *FernetKey, token string) ([]byte, error) {
	data, err := decodeBase64(strings.TrimSpace(token), base64.URLEncoding, base64.RawURLEncoding)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidToken)
	}

	msg := fernet.VerifyAndDecrypt([]byte(base64.URLEncoding.EncodeToString(data)), -1, []*fernet.Key{&key.key})
	if msg == nil {
		return nil, ErrInvalidToken
	}
	return msg, nil
}

// EncryptFernet produces a url-safe base64 Fernet token
func EncryptFernet(key *FernetKey, plaintext []byte) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, &key.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(tok), nil
}

// EncodeLicenseCode wraps a Fernet token the way license codes are distributed
func EncodeLicenseCode(key *FernetKey, plaintext []byte) (string, error) {
	token, err := EncryptFernet(key, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(token)), nil
}

// DecodeLicenseCode unwraps the standard base64 layer around a Fernet
// token and decrypts it.
func DecodeLicenseCode(key *FernetKey, code string) ([]byte, error) {
	token, err := decodeBase64(strings.Join(strings.Fields(code), ""), base64.StdEncoding, base64.RawStdEncoding)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidToken)
	}
	return DecryptFernet(key, string(token))
}

func decodeBase64(s string, encodings ...*base64.Encoding) ([]byte, error) {
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
