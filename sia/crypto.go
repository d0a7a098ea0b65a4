// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sia

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// padAlphabet excludes the DC-09 separators so the pad can never be confused with data
const padAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// padSeparator ends the pad inside every encrypted block
const padSeparator = '|'

// zeroIV is the initialisation vector agreed by DC-09 for AES-CBC.
var zeroIV = make([]byte, aes.BlockSize)

func validKeyLength(n int) bool {
	return n == 16 || n == 24 || n == 32
}

// Encrypt pads plaintext as "pad|plaintext" to a whole number of AES blocks and
// encrypts it with AES-CBC under key. The key length selects AES-128/192/256.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	padLen := aes.BlockSize - (len(plaintext)+1)%aes.BlockSize
	if padLen == aes.BlockSize {
		padLen = 0
	}
	pad, err := randomPad(padLen)
	if err != nil {
		return nil, fmt.Errorf("generate pad: %w", err)
	}

	buf := make([]byte, 0, padLen+1+len(plaintext))
	buf = append(buf, pad...)
	buf = append(buf, padSeparator)
	buf = append(buf, plaintext...)

	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(out, buf)
	return out, nil
}

// Decrypt reverses Encrypt. Any inconsistency in the recovered padding is
// reported as ErrDecrypt: with CBC that is what a wrong key looks like.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrDecrypt, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(out, ciphertext)

	sep := bytes.IndexByte(out[:aes.BlockSize], padSeparator)
	if sep < 0 {
		return nil, fmt.Errorf("%w: pad separator missing", ErrDecrypt)
	}
	for _, c := range out[:sep] {
		if !isPadChar(c) {
			return nil, fmt.Errorf("%w: invalid pad", ErrDecrypt)
		}
	}
	data := out[sep+1:]
	for _, c := range data {
		if c < 0x20 || c > 0x7E {
			return nil, fmt.Errorf("%w: non-printable content", ErrDecrypt)
		}
	}
	return data, nil
}

// EncryptHex encrypts plaintext and returns the uppercase hex form used on the wire
func EncryptHex(plaintext string, key []byte) (string, error) {
	ct, err := Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%X", ct), nil
}

// DecryptHex decodes a hex block taken off the wire and decrypts it
func DecryptHex(s string, key []byte) (string, error) {
	ct, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	pt, err := Decrypt(ct, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func randomPad(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	for i, b := range raw {
		raw[i] = padAlphabet[int(b)%len(padAlphabet)]
	}
	return raw, nil
}

func isPadChar(c byte) bool {
	return c >= 0x20 && c <= 0x7E && c != '|' && c != '[' && c != ']'
}
