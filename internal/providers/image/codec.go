package image

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeBase64 accepts raw or data-URL payloads, with or without padding.
func decodeBase64(raw string) ([]byte, string, error) {
	payload := strings.TrimSpace(raw)
	mime := ""
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data url")
		}
		header := payload[len("data:"):comma]
		mime = strings.TrimSuffix(header, ";base64")
		payload = payload[comma+1:]
	}
	payload = strings.TrimRight(payload, "=")
	data, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 image: %w", err)
	}
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	return data, mime, nil
}

// sizeString renders dimensions the way the OpenAI images API expects.
func sizeString(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}
