package convert

import (
	"context"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// repairStrategy handles payloads that decompress fine but carry
// slightly malformed JSON, such as trailing commas or truncated
// escapes. The repaired document must still validate as an animation.
type repairStrategy struct{}

func (repairStrategy) Name() string    { return "json_repair" }
func (repairStrategy) Available() bool { return true }

func (repairStrategy) Convert(_ context.Context, data []byte) ([]byte, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	repaired, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		return nil, fmt.Errorf("convert: repair json: %w", err)
	}
	return ValidateLottie([]byte(repaired))
}
