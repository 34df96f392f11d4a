package provider

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// MessageCodec turns a one-time secret into an opaque, URL-safe message id
// and back. The payload is timestamp(8, little-endian) + nonce(4) + secret,
// so repeated encodings of the same secret never collide; the decoder skips
// the first 12 bytes and returns the rest. ECB with PKCS#7 is kept for wire
// compatibility with message ids already in circulation.
type MessageCodec struct {
	block cipher.Block
}

// NewMessageCodec creates a codec from the pre-shared key. The key must be
// 16, 24 or 32 bytes (AES-128/192/256).
func NewMessageCodec(key []byte) (*MessageCodec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("message codec: %w", err)
	}
	return &MessageCodec{block: block}, nil
}

// Encode encrypts the secret into a padding-free base64url message id.
func (c *MessageCodec) Encode(secret string) (string, error) {
	payload := make([]byte, 12, 12+len(secret))
	binary.LittleEndian.PutUint64(payload[:8], uint64(time.Now().Unix()))
	if _, err := io.ReadFull(rand.Reader, payload[8:12]); err != nil {
		return "", fmt.Errorf("message codec: nonce: %w", err)
	}
	payload = append(payload, secret...)

	padded := pkcs7Pad(payload, c.block.BlockSize())
	encrypted := make([]byte, len(padded))
	for i := 0; i < len(padded); i += c.block.BlockSize() {
		c.block.Encrypt(encrypted[i:], padded[i:])
	}

	return base64.RawURLEncoding.EncodeToString(encrypted), nil
}

// Decode recovers the secret embedded in a message id. All malformed input
// (bad base64, partial blocks, bad padding, truncated payload) comes back
// wrapped in ErrDecode.
func (c *MessageCodec) Decode(messageID string) (string, error) {
	encrypted, err := base64.RawURLEncoding.DecodeString(messageID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bs := c.block.BlockSize()
	if len(encrypted) == 0 || len(encrypted)%bs != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrDecode, len(encrypted))
	}

	padded := make([]byte, len(encrypted))
	for i := 0; i < len(encrypted); i += bs {
		c.block.Decrypt(padded[i:], encrypted[i:])
	}

	payload, err := pkcs7Unpad(padded, bs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(payload) < 12 {
		return "", fmt.Errorf("%w: payload too short", ErrDecode)
	}

	return string(payload[12:]), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
