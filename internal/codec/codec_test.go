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

package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"testing"
)

var (
	testKey = []byte("SEGURANCA1234567")
	testIV  = []byte("INICIALIV1234567")
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(testKey, testIV, 128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	for n := 0; n <= 111; n++ {
		msg := bytes.Repeat([]byte{'a' + byte(n%26)}, n)
		ct, err := c.Encrypt(msg)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", n, err)
		}
		if len(ct)%BlockSize != 0 || len(ct) > 128 {
			t.Fatalf("ciphertext length %d for %d bytes", len(ct), n)
		}
		got, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", n, err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip %d bytes: got %q", n, got)
		}
	}
}

func TestEncrypt_AlignedInputGetsFullPadBlock(t *testing.T) {
	c := newTestCodec(t)
	for _, n := range []int{16, 32, 96} {
		ct, err := c.Encrypt(make([]byte, n))
		if err != nil {
			t.Fatalf("Encrypt(%d): %v", n, err)
		}
		if len(ct) != n+BlockSize {
			t.Errorf("len(ct) = %d, want %d", len(ct), n+BlockSize)
		}
	}
}

func TestEncrypt_TooLong(t *testing.T) {
	c := newTestCodec(t)

	// 112..127 bytes still pad to exactly 128
	for _, n := range []int{112, c.MaxPlaintext()} {
		ct, err := c.Encrypt(make([]byte, n))
		if err != nil {
			t.Errorf("Encrypt(%d): %v", n, err)
		}
		if len(ct) != c.MaxPayload() {
			t.Errorf("Encrypt(%d) = %d bytes, want %d", n, len(ct), c.MaxPayload())
		}
	}
	for _, n := range []int{128, 200} {
		ct, err := c.Encrypt(make([]byte, n))
		if !errors.Is(err, ErrTooLong) {
			t.Errorf("Encrypt(%d) err = %v, want ErrTooLong", n, err)
		}
		if ct != nil {
			t.Errorf("Encrypt(%d) returned output on failure", n)
		}
	}
}

func TestEncrypt_MatchesStandardCBC(t *testing.T) {
	c := newTestCodec(t)
	ct, err := c.Encrypt([]byte("37.5"))
	if err != nil {
		t.Fatal(err)
	}

	block, _ := aes.NewCipher(testKey)
	want := append([]byte("37.5"), bytes.Repeat([]byte{12}, 12)...)
	cipher.NewCBCEncrypter(block, testIV).CryptBlocks(want, want)
	if !bytes.Equal(ct, want) {
		t.Errorf("ciphertext mismatch\n got %x\nwant %x", ct, want)
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	c := newTestCodec(t)
	for _, n := range []int{0, 1, 15, 17} {
		if _, err := c.Decrypt(make([]byte, n)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decrypt(%d bytes) err = %v, want ErrMalformed", n, err)
		}
	}
}

func TestDecryptTo_ShortBuffer(t *testing.T) {
	c := newTestCodec(t)
	ct, _ := c.Encrypt([]byte("online"))
	if _, err := c.DecryptTo(make([]byte, 8), ct); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}

	dst := make([]byte, 64)
	n, err := c.DecryptTo(dst, ct)
	if err != nil || string(dst[:n]) != "online" {
		t.Errorf("DecryptTo = %q, %v", dst[:n], err)
	}
}

func TestDecrypt_BadPadding(t *testing.T) {
	// one block whose plaintext ends in 0x00
	block, _ := aes.NewCipher(testKey)
	ct := make([]byte, BlockSize)
	copy(ct, "no padding here!")
	ct[BlockSize-1] = 0
	plain := append([]byte(nil), ct...)
	cipher.NewCBCEncrypter(block, testIV).CryptBlocks(ct, ct)

	lenient := newTestCodec(t)
	got, err := lenient.Decrypt(ct)
	if err != nil {
		t.Fatalf("lenient Decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("lenient Decrypt = %q, want whole buffer", got)
	}

	strict := newTestCodec(t).WithStrictPadding(true)
	if _, err := strict.Decrypt(ct); !errors.Is(err, ErrBadPadding) {
		t.Errorf("strict Decrypt err = %v, want ErrBadPadding", err)
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := New([]byte("short"), testIV, 128); err == nil {
		t.Error("short key accepted")
	}
	if _, err := New(testKey, []byte("short"), 128); err == nil {
		t.Error("short iv accepted")
	}
	if _, err := New(testKey, testIV, 100); err == nil {
		t.Error("unaligned max payload accepted")
	}
}
