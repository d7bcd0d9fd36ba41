package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrDecrypt = errors.New("wire: message authentication or padding failed")

type payloadCipher interface {
	seal(plaintext []byte) ([]byte, error)
	open(ciphertext []byte) ([]byte, error)
}

type cbcCipher struct {
	block cipher.Block
	iv    []byte
}

func newCBCCipher(key []byte) (*cbcCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &cbcCipher{block: block, iv: key}, nil
}

func (c *cbcCipher) seal(plaintext []byte) ([]byte, error) {
	n := aes.BlockSize - len(plaintext)%aes.BlockSize
	buf := make([]byte, len(plaintext), len(plaintext)+n)
	copy(buf, plaintext)
	buf = append(buf, bytes.Repeat([]byte{byte(n)}, n)...)

	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(buf, buf)
	return buf, nil
}

func (c *cbcCipher) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecrypt
	}
	buf := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(buf, ciphertext)

	n := int(buf[len(buf)-1])
	if n == 0 || n > aes.BlockSize {
		return nil, ErrDecrypt
	}
	for _, b := range buf[len(buf)-n:] {
		if int(b) != n {
			return nil, ErrDecrypt
		}
	}
	return buf[:len(buf)-n], nil
}

type aeadCipher struct {
	aead cipher.AEAD
	ad   []byte
}

func newAEADCipher(key, ad []byte) (*aeadCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{aead: aead, ad: ad}, nil
}

// seal returns nonce || ciphertext.
func (c *aeadCipher) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, c.ad), nil
}

func (c *aeadCipher) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, body := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	out, err := c.aead.Open(nil, nonce, body, c.ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}
