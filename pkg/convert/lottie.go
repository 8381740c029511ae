package convert

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrNotLottie marks a payload that parsed as JSON but lacks the
// animation header fields.
var ErrNotLottie = errors.New("convert: payload is not a lottie animation")

// lottieHeader is the minimal field set a playable animation must carry.
type lottieHeader struct {
	Version   *string  `json:"v"`
	FrameRate *float64 `json:"fr"`
	Width     *float64 `json:"w"`
	Height    *float64 `json:"h"`
}

// ValidateLottie checks that data is a Lottie animation document and
// returns it compacted. The payload must be valid JSON carrying the v,
// fr, w and h header fields.
func ValidateLottie(data []byte) ([]byte, error) {
	var hdr lottieHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("convert: parse animation: %w", err)
	}
	if hdr.Version == nil || hdr.FrameRate == nil || hdr.Width == nil || hdr.Height == nil {
		return nil, ErrNotLottie
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("convert: compact animation: %w", err)
	}
	return buf.Bytes(), nil
}
