// Package wire implements the realtime transport: the Diffie-Hellman
// handshake, session key derivation, the payload cipher suites and the
// text frame format.
package wire

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
)

// modp5Hex is the RFC 3526 1536-bit MODP group prime.
const modp5Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA237327FFFFFFFFFFFFFFFF"

var (
	groupPrime, _  = new(big.Int).SetString(modp5Hex, 16)
	groupGenerator = big.NewInt(2)
	groupSize      = (groupPrime.BitLen() + 7) / 8

	ErrBadPublicKey = errors.New("wire: peer public key out of range")
)

// KeyPair is one ephemeral handshake key.
type KeyPair struct {
	private *big.Int
	// Public is g^x mod p, big-endian and left-padded to the group size.
	Public []byte
}

// GenerateKey draws a fresh private exponent from r (crypto/rand when nil).
func GenerateKey(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	// x in [2, p-2]
	limit := new(big.Int).Sub(groupPrime, big.NewInt(3))
	x, err := rand.Int(r, limit)
	if err != nil {
		return nil, err
	}
	x.Add(x, big.NewInt(2))

	y := new(big.Int).Exp(groupGenerator, x, groupPrime)
	return &KeyPair{private: x, Public: pad(y.Bytes())}, nil
}

// SharedSecret combines k with the peer's public value.
func (k *KeyPair) SharedSecret(peer []byte) ([]byte, error) {
	y := new(big.Int).SetBytes(peer)
	upper := new(big.Int).Sub(groupPrime, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(upper) >= 0 {
		return nil, ErrBadPublicKey
	}
	s := new(big.Int).Exp(y, k.private, groupPrime)
	return pad(s.Bytes()), nil
}

func pad(b []byte) []byte {
	if len(b) >= groupSize {
		return b
	}
	out := make([]byte, groupSize)
	copy(out[groupSize-len(b):], b)
	return out
}
