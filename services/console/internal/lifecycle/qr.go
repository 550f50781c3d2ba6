package lifecycle

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
)

const pngDataURIPrefix = "data:image/png;base64,"

// ErrNoQRCode is returned when an instance has no stored QR payload.
var ErrNoQRCode = errors.New("no QR code available")

// QRPayload turns a connect answer into the stored data URI. When the gateway
// only returns the raw pairing string, the PNG is rendered locally.
func QRPayload(qr evolution.QRCode) (string, error) {
	if b := strings.TrimSpace(qr.Base64); b != "" {
		if strings.HasPrefix(b, "data:") {
			return b, nil
		}
		return pngDataURIPrefix + b, nil
	}
	if qr.Code == "" {
		return "", ErrNoQRCode
	}
	png, err := qrcode.Encode(qr.Code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// QRPNG decodes a stored payload back into PNG bytes.
func QRPNG(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrNoQRCode
	}
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode qr payload: %w", err)
	}
	return data, nil
}
