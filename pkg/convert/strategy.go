package convert

import "context"

// Strategy is one way to turn a gzipped TGS payload into a Lottie JSON
// document. Strategies are tried in order until one produces a valid
// animation.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// Available reports whether the strategy can run in this process.
	Available() bool

	// Convert attempts the conversion. The returned bytes are a
	// validated, compacted Lottie document.
	Convert(ctx context.Context, data []byte) ([]byte, error)
}

// DefaultStrategies returns the standard chain: plain gzip decompression
// first, JSON repair for slightly malformed payloads second, and the
// external tgs2json binary as the fallback of last resort.
func DefaultStrategies() []Strategy {
	return []Strategy{
		gzipStrategy{},
		repairStrategy{},
		newExecStrategy(),
	}
}
