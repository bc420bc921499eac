package report

import (
	"encoding/hex"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// fileDigestURI is the QR payload identifying a survey line by content.
func fileDigestURI(sha256Hex string) (string, error) {
	digest := strings.ToLower(strings.TrimSpace(sha256Hex))
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("not a SHA-256 digest: %q", sha256Hex)
	}
	return "urn:sha256:" + digest, nil
}

// DigestQR renders a PNG QR code of the file digest, size pixels square.
func DigestQR(sha256Hex string, size int) ([]byte, error) {
	uri, err := fileDigestURI(sha256Hex)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}
