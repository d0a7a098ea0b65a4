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
	"crypto/aes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testKeys = map[string]string{
	"aes128": "0123456789abcdef",
	"aes192": "0123456789abcdef01234567",
	"aes256": "0123456789abcdef0123456789abcdef",
}

func TestCrypto_RoundTrip(t *testing.T) {
	for name, key := range testKeys {
		t.Run(name, func(t *testing.T) {
			for n := 0; n <= 3*aes.BlockSize+1; n++ {
				plaintext := []byte(strings.Repeat("x", n))
				ct, err := Encrypt(plaintext, []byte(key))
				require.NoError(t, err)
				require.Zero(t, len(ct)%aes.BlockSize)

				got, err := Decrypt(ct, []byte(key))
				require.NoError(t, err)
				require.Equal(t, string(plaintext), string(got), "length %d", n)
			}
		})
	}
}

func TestCrypto_HexRoundTrip(t *testing.T) {
	key := []byte(testKeys["aes128"])
	plaintext := "#1234|Nri1/BA501]_12:00:00,01-02-2024"

	hexData, err := EncryptHex(plaintext, key)
	require.NoError(t, err)
	require.Equal(t, strings.ToUpper(hexData), hexData)

	got, err := DecryptHex(hexData, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestCrypto_WrongKey(t *testing.T) {
	hexData, err := EncryptHex("#1234|Nri1/BA501]_12:00:00,01-02-2024", []byte(testKeys["aes128"]))
	require.NoError(t, err)

	_, err = DecryptHex(hexData, []byte("fedcba9876543210"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDecrypt))
}

func TestCrypto_MalformedCiphertext(t *testing.T) {
	key := []byte(testKeys["aes128"])

	_, err := Decrypt(make([]byte, 15), key)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = Decrypt(nil, key)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = DecryptHex("not-hex", key)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestCrypto_InvalidKey(t *testing.T) {
	_, err := Encrypt([]byte("data"), []byte("short"))
	require.ErrorIs(t, err, ErrInvalidKey)
}
