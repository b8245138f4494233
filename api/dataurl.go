package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// EncodeDataURL returns data as a base64 data URL for parse-psd fileData.
// The media type is sniffed from the content.
func EncodeDataURL(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL and returns its media type and bytes.
// A bare base64 string without the data: prefix is also accepted.
func DecodeDataURL(s string) (string, []byte, error) {
	if s == "" {
		return "", nil, errors.New("empty data URL")
	}
	mediaType := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return "", nil, errors.New("data URL has no payload")
		}
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, errors.New("data URL is not base64 encoded")
		}
		mediaType = strings.TrimSuffix(header, ";base64")
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mediaType, data, nil
}
