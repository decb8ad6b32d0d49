package llmclient

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultImageMIME = "image/png"

// ParseDataURI splits a base64 data URI into its MIME type and payload.
// A bare base64 string is accepted as PNG.
func ParseDataURI(uri string) (string, []byte, error) {
	mime := defaultImageMIME
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		header, body, ok := strings.Cut(uri[len("data:"):], ",")
		if !ok {
			return "", nil, fmt.Errorf("malformed data URI")
		}
		params := strings.Split(header, ";")
		if params[0] != "" {
			mime = params[0]
		}
		isBase64 := false
		for _, p := range params[1:] {
			if p == "base64" {
				isBase64 = true
			}
		}
		if !isBase64 {
			return "", nil, fmt.Errorf("data URI is not base64 encoded")
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI payload: %w", err)
	}
	return mime, data, nil
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	if mime == "" {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
