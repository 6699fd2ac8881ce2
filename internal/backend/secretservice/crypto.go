// SPDX-License-Identifier: Apache-2.0

package secretservice

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// ietf1024Prime is the 1024-bit prime for the IETF DH group (RFC 2409 Group 2).
// This is the group used by dh-ietf1024-sha256-aes128-cbc-pkcs7.
var ietf1024Prime, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381"+
		"FFFFFFFFFFFFFFFF",
	16,
)

// dhGroupSize is the byte length of the IETF 1024-bit DH group prime (128 bytes).
const dhGroupSize = 128

var ietf1024Generator = big.NewInt(2)

// dhKeyPair is the client half of a session key exchange.
type dhKeyPair struct {
	priv *big.Int
	pub  *big.Int
}

// newDHKeyPair generates a key pair for the IETF 1024-bit DH group.
// The private key is a random 256-bit value reduced into [2, p-2].
func newDHKeyPair() (*dhKeyPair, error) {
	privBytes := make([]byte, 32)
	if _, err := rand.Read(privBytes); err != nil {
		return nil, err
	}
	priv := new(big.Int).SetBytes(privBytes)
	pMinus2 := new(big.Int).Sub(ietf1024Prime, big.NewInt(2))
	priv.Mod(priv, pMinus2)
	priv.Add(priv, big.NewInt(2))

	return &dhKeyPair{
		priv: priv,
		pub:  new(big.Int).Exp(ietf1024Generator, priv, ietf1024Prime),
	}, nil
}

// publicBytes is the public key as sent in OpenSession.
func (kp *dhKeyPair) publicBytes() []byte {
	return groupBytes(kp.pub)
}

// deriveKey computes the shared secret with the service's public key and
// expands it to an AES-128 key with HKDF-SHA256 (no salt, no info), as the
// Secret Service algorithm specifies.
func (kp *dhKeyPair) deriveKey(peer []byte) ([]byte, error) {
	peerPub := new(big.Int).SetBytes(peer)
	if peerPub.Cmp(big.NewInt(1)) <= 0 || peerPub.Cmp(ietf1024Prime) >= 0 {
		return nil, errors.New("service DH public key out of range")
	}
	shared := new(big.Int).Exp(peerPub, kp.priv, ietf1024Prime)

	key := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, groupBytes(shared), nil, nil), key); err != nil {
		return nil, err
	}
	return key, nil
}

// groupBytes serializes n big-endian, padded to dhGroupSize.
func groupBytes(n *big.Int) []byte {
	buf := make([]byte, dhGroupSize)
	b := n.Bytes()
	copy(buf[dhGroupSize-len(b):], b)
	return buf
}

// aesEncrypt encrypts plaintext using AES-128-CBC with PKCS7 padding and a random IV.
// Returns (iv, ciphertext).
func aesEncrypt(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

// aesDecrypt decrypts AES-128-CBC ciphertext (PKCS7 padded) using the given key and IV.
func aesDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext length is not a multiple of AES block size")
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("invalid IV length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty padded data")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, errors.New("invalid PKCS7 padding")
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, errors.New("invalid PKCS7 padding byte")
		}
	}
	return data[:len(data)-padding], nil
}
