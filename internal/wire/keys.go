package wire

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type Suite string

const (
	// SuiteCBC is the legacy AES-128-CBC suite with IV equal to the key.
	SuiteCBC Suite = "cbc"
	// SuiteXChaCha is XChaCha20-Poly1305 with a random nonce per message.
	SuiteXChaCha Suite = "xchacha20poly1305"
)

// ParseSuite validates a configured suite name.
func ParseSuite(name string) (Suite, error) {
	switch s := Suite(name); s {
	case SuiteCBC, SuiteXChaCha:
		return s, nil
	default:
		return "", fmt.Errorf("wire: unknown cipher suite %q", name)
	}
}

// SessionKeys is the symmetric state both ends derive from one handshake.
type SessionKeys struct {
	Suite Suite
	Key   []byte
	// Tag is hex(md5(first 16 bytes of sha256(secret))). Every message frame
	// carries it; a frame with any other tag is rejected.
	Tag string

	cipher payloadCipher
}

// DeriveKeys turns a DH shared secret into session keys for suite.
func DeriveKeys(suite Suite, secret []byte) (*SessionKeys, error) {
	sum := sha256.Sum256(secret)
	tagSum := md5.Sum(sum[:16])
	keys := &SessionKeys{Suite: suite, Tag: hex.EncodeToString(tagSum[:])}

	var err error
	switch suite {
	case SuiteCBC:
		keys.Key = append([]byte(nil), sum[:16]...)
		keys.cipher, err = newCBCCipher(keys.Key)
	case SuiteXChaCha:
		keys.Key = append([]byte(nil), sum[:]...)
		keys.cipher, err = newAEADCipher(keys.Key, []byte(keys.Tag))
	default:
		return nil, fmt.Errorf("wire: unknown cipher suite %q", suite)
	}
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (k *SessionKeys) Seal(plaintext []byte) ([]byte, error) {
	return k.cipher.seal(plaintext)
}

func (k *SessionKeys) Open(ciphertext []byte) ([]byte, error) {
	return k.cipher.open(ciphertext)
}
