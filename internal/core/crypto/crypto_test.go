package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testHexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestPayloadCipher_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		plaintext string
	}{
		{"hex key json payload", testHexKey, `{"name":"page_view","params":{"page":"/checkout"}}`},
		{"hex key empty payload", testHexKey, ""},
		{"passphrase key", "not-a-hex-key-but-still-a-secret", `{"name":"purchase","params":{"value":12.5}}`},
		{"unicode payload", testHexKey, `{"name":"search","params":{"q":"café ☕"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cipher, err := NewPayloadCipher(tc.key)
			require.NoError(t, err)

			sealed, err := cipher.Encrypt(tc.plaintext)
			require.NoError(t, err)
			require.NotEqual(t, tc.plaintext, sealed)

			opened, err := cipher.Decrypt(sealed)
			require.NoError(t, err)
			require.Equal(t, tc.plaintext, opened)
		})
	}
}

func TestPayloadCipher_NonceUniqueness(t *testing.T) {
	cipher, err := NewPayloadCipher(testHexKey)
	require.NoError(t, err)

	first, err := cipher.Encrypt("same input")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same input")
	require.NoError(t, err)

	require.NotEqual(t, first, second, "random nonce must make repeated encryptions differ")
}

func TestNewPayloadCipher_InvalidKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty key", ""},
		{"64 chars but not hex", strings.Repeat("z", 64)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPayloadCipher(tc.key)
			require.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestPayloadCipher_DecryptFailsClosed(t *testing.T) {
	cipher, err := NewPayloadCipher(testHexKey)
	require.NoError(t, err)

	sealed, err := cipher.Encrypt(`{"name":"scroll"}`)
	require.NoError(t, err)

	t.Run("not base64", func(t *testing.T) {
		_, err := cipher.Decrypt("%%% definitely not base64 %%%")
		require.ErrorIs(t, err, ErrDecryptFailed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := cipher.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
		require.ErrorIs(t, err, ErrDecryptFailed)
	})

	t.Run("tampered", func(t *testing.T) {
		raw, decodeErr := base64.StdEncoding.DecodeString(sealed)
		require.NoError(t, decodeErr)
		raw[len(raw)-1] ^= 0xff
		_, err := cipher.Decrypt(base64.StdEncoding.EncodeToString(raw))
		require.ErrorIs(t, err, ErrDecryptFailed)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, buildErr := NewPayloadCipher("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
		require.NoError(t, buildErr)
		_, err := other.Decrypt(sealed)
		require.ErrorIs(t, err, ErrDecryptFailed)
	})
}
