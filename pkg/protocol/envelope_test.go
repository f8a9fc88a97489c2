package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	payload := []byte(`{"hello":"world"}`)

	raw, err := EncryptEnvelope(key, InnerFormatJSON, payload)
	require.NoError(t, err)

	env, err := DecryptEnvelope(key, raw)
	require.NoError(t, err)
	require.Equal(t, InnerFormatJSON, env.Format)
	require.Equal(t, payload, env.Payload)
}

func TestDecryptRejectsShortEnvelope(t *testing.T) {
	key := testKey()
	_, err := DecryptEnvelope(key, []byte{0x01, 0x02, 0x03})
	require.Error(t, err)
	var envErr *EnvelopeError
	require.ErrorAs(t, err, &envErr)
	require.True(t, envErr.Close)
}

func TestDecryptRejectsWrongVersion(t *testing.T) {
	key := testKey()
	raw, err := EncryptEnvelope(key, InnerFormatJSON, []byte("x"))
	require.NoError(t, err)
	raw[0] = 0x02

	_, err = DecryptEnvelope(key, raw)
	require.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := testKey()
	raw, err := EncryptEnvelope(key, InnerFormatJSON, []byte("x"))
	require.NoError(t, err)

	var wrongKey [32]byte
	wrongKey[0] = 0xFF
	_, err = DecryptEnvelope(wrongKey, raw)
	require.Error(t, err)
}

func TestUploadChunkEncodeDecode(t *testing.T) {
	var id [UploadIDSize]byte
	for i := range id {
		id[i] = byte(i + 1)
	}
	chunk := []byte("some bytes")

	encoded := EncodeUploadChunk(id, 1024, chunk)
	gotID, offset, gotChunk, err := DecodeUploadChunk(encoded)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, uint64(1024), offset)
	require.Equal(t, chunk, gotChunk)
}
