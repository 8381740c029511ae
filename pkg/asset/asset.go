// Package asset defines the sticker asset model shared by the cache tiers,
// the upstream queue and the conversion pipeline.
package asset

import "time"

// Asset is one fetched (and possibly converted) sticker payload.
// An Asset is immutable once constructed; it is owned by whichever cache
// tier currently holds it, or transiently by the service during a fetch.
type Asset struct {
	// ID is the opaque upstream file identifier.
	ID string

	// SourceFormat is the format the upstream delivered.
	SourceFormat Format

	// OutputFormat is the format served to callers. Differs from
	// SourceFormat only when the conversion pipeline produced a
	// normalized payload.
	OutputFormat Format

	// Bytes is the payload in OutputFormat.
	Bytes []byte

	// ByteSize is len(Bytes), kept explicit for cache admission decisions.
	ByteSize int

	// Converted reports whether Bytes is the result of a format conversion.
	Converted bool

	// ConversionTime is how long the winning conversion strategy took.
	// Zero when Converted is false.
	ConversionTime time.Duration

	// FetchedAt is when the payload was obtained from upstream or cache.
	FetchedAt time.Time
}

// MIMEType returns the MIME type of the payload as served.
func (a *Asset) MIMEType() string {
	return MIMEFor(a.OutputFormat)
}
