package transport

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/oklog/ulid/v2"
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func base64Decode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ulidFromBytes decodes a 16-byte upload-id (the wire format fixes uploads
// at 16 bytes, the same width as a ULID) back into its canonical string
// form, matching the id space internal/process and internal/srp already use.
func ulidFromBytes(b [16]byte) string {
	var id ulid.ULID
	copy(id[:], b[:])
	return id.String()
}
