package protocol

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/secretbox"
)

// EnvelopeError is a typed parse failure; Close determines whether the
// transport should merely warn or close the socket (§4.11), and Code is the
// WebSocket close code for the latter.
type EnvelopeError struct {
	Code    CloseCode
	Message string
	Close   bool
}

func (e *EnvelopeError) Error() string { return e.Message }

func newCloseError(msg string) *EnvelopeError {
	return &EnvelopeError{Code: CloseUnknownVersion, Message: msg, Close: true}
}

// EncryptEnvelope builds `[version][nonce][ciphertext]` around the inner
// payload `[format][payload]`, sealed under key with NaCl secretbox
// (xsalsa20-poly1305).
func EncryptEnvelope(key [32]byte, format InnerFormat, payload []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	inner := make([]byte, 1+len(payload))
	inner[0] = byte(format)
	copy(inner[1:], payload)

	sealed := secretbox.Seal(nil, inner, &nonce, &key)

	out := make([]byte, 0, 1+NonceSize+len(sealed))
	out = append(out, EnvelopeVersion)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptEnvelope parses and opens a binary encrypted envelope, enforcing
// every rule in §4.11: minimum length, a strict version byte, and a known
// inner format tag. Any violation is an *EnvelopeError whose Close field
// tells the caller whether to close the socket (protocol violations) or
// just reject the message.
func DecryptEnvelope(key [32]byte, raw []byte) (Envelope, error) {
	if len(raw) < MinEnvelopeLen {
		return Envelope{}, newCloseError("envelope shorter than minimum length")
	}
	if raw[0] != EnvelopeVersion {
		return Envelope{}, newCloseError("unknown envelope version")
	}

	var nonce [NonceSize]byte
	copy(nonce[:], raw[1:1+NonceSize])
	ciphertext := raw[1+NonceSize:]

	inner, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return Envelope{}, &EnvelopeError{Code: CloseUnknownVersion, Message: "envelope authentication failed", Close: true}
	}
	if len(inner) < 1 {
		return Envelope{}, newCloseError("empty inner payload")
	}

	format := InnerFormat(inner[0])
	switch format {
	case InnerFormatJSON, InnerFormatUploadByte, InnerFormatGzipJSON:
	default:
		return Envelope{}, newCloseError("unknown inner format byte")
	}

	return Envelope{Format: format, Payload: inner[1:]}, nil
}

// DecodeUploadChunk splits a binary 0x02 inner payload into its
// upload-uuid, byte offset, and chunk bytes.
func DecodeUploadChunk(payload []byte) (uploadID [UploadIDSize]byte, offset uint64, chunk []byte, err error) {
	if len(payload) < UploadIDSize+8 {
		return uploadID, 0, nil, newCloseError("upload chunk payload too short")
	}
	copy(uploadID[:], payload[:UploadIDSize])
	offset = beUint64(payload[UploadIDSize : UploadIDSize+8])
	chunk = payload[UploadIDSize+8:]
	return uploadID, offset, chunk, nil
}

// EncodeUploadChunk is the inverse of DecodeUploadChunk.
func EncodeUploadChunk(uploadID [UploadIDSize]byte, offset uint64, chunk []byte) []byte {
	out := make([]byte, UploadIDSize+8+len(chunk))
	copy(out, uploadID[:])
	putBeUint64(out[UploadIDSize:UploadIDSize+8], offset)
	copy(out[UploadIDSize+8:], chunk)
	return out
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
