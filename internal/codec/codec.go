// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package codec encrypts telemetry payloads with AES-128-CBC and a fixed
// key and IV. Padding is PKCS#7: every plaintext gains 1..16 pad bytes,
// a full block when it is already aligned.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const BlockSize = aes.BlockSize

var (
	ErrTooLong     = errors.New("codec: padded message exceeds max payload")
	ErrMalformed   = errors.New("codec: ciphertext length is not a positive multiple of the block size")
	ErrShortBuffer = errors.New("codec: output buffer smaller than ciphertext")
	ErrBadPadding  = errors.New("codec: invalid padding")
)

type Codec struct {
	block      cipher.Block
	iv         []byte
	maxPayload int
	strict     bool
}

// New builds a codec. key and iv must both be 16 bytes.
func New(key, iv []byte, maxPayload int) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("codec: key must be 16 bytes, got %d", len(key))
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("codec: iv must be %d bytes, got %d", BlockSize, len(iv))
	}
	if maxPayload < BlockSize || maxPayload%BlockSize != 0 {
		return nil, fmt.Errorf("codec: max payload %d is not a positive multiple of %d", maxPayload, BlockSize)
	}
	return &Codec{
		block:      block,
		iv:         append([]byte(nil), iv...),
		maxPayload: maxPayload,
	}, nil
}

// WithStrictPadding makes Decrypt reject a pad byte outside [1,16] instead
// of returning the whole decrypted buffer.
func (c *Codec) WithStrictPadding(strict bool) *Codec {
	c.strict = strict
	return c
}

func (c *Codec) MaxPayload() int { return c.maxPayload }

// MaxPlaintext is the longest message Encrypt accepts.
func (c *Codec) MaxPlaintext() int { return c.maxPayload - 1 }

// PaddedLen is the ciphertext length produced for an n byte message.
func PaddedLen(n int) int {
	return (n/BlockSize + 1) * BlockSize
}

func (c *Codec) Encrypt(plain []byte) ([]byte, error) {
	n := PaddedLen(len(plain))
	if n > c.maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, n, c.maxPayload)
	}

	buf := make([]byte, n)
	copy(buf, plain)
	pad := byte(n - len(plain))
	for i := len(plain); i < n; i++ {
		buf[i] = pad
	}

	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(buf, buf)
	return buf, nil
}

func (c *Codec) Decrypt(ct []byte) ([]byte, error) {
	dst := make([]byte, len(ct))
	n, err := c.DecryptTo(dst, ct)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// DecryptTo decrypts ct into dst and returns the message length.
func (c *Codec) DecryptTo(dst, ct []byte) (int, error) {
	if len(ct) == 0 || len(ct)%BlockSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformed, len(ct))
	}
	if len(dst) < len(ct) {
		return 0, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(dst), len(ct))
	}

	out := dst[:len(ct)]
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ct)

	pad := int(out[len(out)-1])
	if pad < 1 || pad > BlockSize {
		if c.strict {
			return 0, fmt.Errorf("%w: pad byte %d", ErrBadPadding, pad)
		}
		return len(out), nil
	}
	return len(out) - pad, nil
}
