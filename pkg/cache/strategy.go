package cache

import "github.com/snapstix/sticker-cache/pkg/asset"

// Strategy decides which tiers admit a given record. The fast tier is
// reserved for small payloads in preferred formats to avoid memory
// pressure; the durable tier takes everything below its own size cap.
type Strategy struct {
	// FastMaxBytes is the largest payload admitted to the fast tier.
	FastMaxBytes int

	// FastPreferred lists formats admitted to the fast tier.
	FastPreferred []asset.Format

	// FastExcluded lists formats never admitted to the fast tier,
	// regardless of size or conversion status.
	FastExcluded []asset.Format

	// DurableMaxBytes is the largest payload admitted to the durable tier.
	DurableMaxBytes int
}

// DefaultStrategy mirrors the production defaults: 5 MiB fast-tier cap,
// converted and display-ready formats preferred, raw TGS excluded, 50 MiB
// durable-tier cap.
func DefaultStrategy() Strategy {
	return Strategy{
		FastMaxBytes:    5 * 1024 * 1024,
		FastPreferred:   []asset.Format{asset.FormatLottie, asset.FormatWebP, asset.FormatPNG, asset.FormatJPG},
		FastExcluded:    []asset.Format{asset.FormatTGS},
		DurableMaxBytes: 50 * 1024 * 1024,
	}
}

// AdmitFast reports whether a payload belongs in the fast tier.
func (s Strategy) AdmitFast(format asset.Format, size int, converted bool) bool {
	for _, f := range s.FastExcluded {
		if format == f {
			return false
		}
	}
	if s.FastMaxBytes > 0 && size > s.FastMaxBytes {
		return false
	}
	if converted {
		return true
	}
	for _, f := range s.FastPreferred {
		if format == f {
			return true
		}
	}
	return false
}

// AdmitDurable reports whether a payload belongs in the durable tier.
// Undetected formats are never admitted: the tier has no directory for
// them and lookups would not probe one.
func (s Strategy) AdmitDurable(format asset.Format, size int) bool {
	if format == asset.FormatUnknown {
		return false
	}
	return s.DurableMaxBytes <= 0 || size <= s.DurableMaxBytes
}
