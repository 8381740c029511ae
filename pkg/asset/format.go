package asset

import (
	"bytes"
	"strings"
)

// Format identifies a sticker payload format.
type Format string

// Supported formats.
const (
	FormatTGS     Format = "tgs"
	FormatLottie  Format = "lottie"
	FormatWebM    Format = "webm"
	FormatWebP    Format = "webp"
	FormatPNG     Format = "png"
	FormatJPG     Format = "jpg"
	FormatUnknown Format = "unknown"
)

// CacheLookupFormats is the order in which durable-tier lookups probe
// stored formats. TGS is deliberately absent: raw TGS payloads are never
// persisted, only their converted Lottie form.
var CacheLookupFormats = []Format{FormatLottie, FormatWebP, FormatPNG, FormatJPG, FormatWebM}

var mimeTypes = map[Format]string{
	FormatTGS:    "application/gzip",
	FormatLottie: "application/json",
	FormatWebM:   "video/webm",
	FormatWebP:   "image/webp",
	FormatPNG:    "image/png",
	FormatJPG:    "image/jpeg",
}

// MIMEFor returns the MIME type for a format, falling back to
// application/octet-stream for unrecognized formats.
func MIMEFor(f Format) string {
	if mt, ok := mimeTypes[f]; ok {
		return mt
	}
	return "application/octet-stream"
}

// DetectFormat determines the payload format from the upstream file path
// and, failing that, from magic bytes.
func DetectFormat(path string, content []byte) Format {
	switch {
	case strings.HasSuffix(path, ".tgs"):
		return FormatTGS
	case strings.HasSuffix(path, ".webm"):
		return FormatWebM
	case strings.HasSuffix(path, ".webp"):
		return FormatWebP
	case strings.HasSuffix(path, ".png"):
		return FormatPNG
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return FormatJPG
	}

	head := content
	if len(head) > 20 {
		head = head[:20]
	}

	switch {
	case bytes.HasPrefix(content, []byte{0x1f, 0x8b}):
		return FormatTGS
	case bytes.HasPrefix(content, []byte("RIFF")) && bytes.Contains(head, []byte("WEBM")):
		return FormatWebM
	case bytes.HasPrefix(content, []byte("RIFF")) && bytes.Contains(head, []byte("WEBP")):
		return FormatWebP
	case bytes.HasPrefix(content, []byte("\x89PNG")):
		return FormatPNG
	case bytes.HasPrefix(content, []byte{0xff, 0xd8, 0xff}):
		return FormatJPG
	}

	return FormatUnknown
}
