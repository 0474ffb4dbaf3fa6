package ingest

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedType is returned for uploads whose content cannot be turned
// into text.
var ErrUnsupportedType = errors.New("unsupported content type")

// GuessMimeType resolves a mime type for an upload: the client-supplied type
// wins, then the filename extension, then content sniffing.
func GuessMimeType(filename, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	if len(data) > 0 {
		if sniffed, _, err := mime.ParseMediaType(http.DetectContentType(data)); err == nil {
			return sniffed
		}
	}
	return "application/octet-stream"
}

// textLike reports whether a mime type carries extractable text.
func textLike(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/javascript",
		"application/x-yaml", "application/yaml", "application/csv":
		return true
	}
	return strings.HasSuffix(mimeType, "+json") || strings.HasSuffix(mimeType, "+xml")
}

// ExtractText converts upload bytes into indexable text. Binary formats are
// rejected with ErrUnsupportedType; extraction for those lives with the
// hosted document pipeline, not here.
func ExtractText(mimeType string, data []byte) (string, error) {
	if !textLike(mimeType) {
		return "", ErrUnsupportedType
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrUnsupportedType
	}
	return text, nil
}
