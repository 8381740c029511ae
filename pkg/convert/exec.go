package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// tgs2jsonBinary is the external converter probed on the PATH.
const tgs2jsonBinary = "tgs2json"

// execStrategy shells out to the tgs2json CLI. Only used when the
// binary is installed; the in-process strategies cover normal payloads.
type execStrategy struct {
	path string
}

func newExecStrategy() *execStrategy {
	path, err := exec.LookPath(tgs2jsonBinary)
	if err != nil {
		return &execStrategy{}
	}
	return &execStrategy{path: path}
}

func (s *execStrategy) Name() string    { return "tgs2json" }
func (s *execStrategy) Available() bool { return s.path != "" }

func (s *execStrategy) Convert(ctx context.Context, data []byte) ([]byte, error) {
	if s.path == "" {
		return nil, fmt.Errorf("convert: %s not installed", tgs2jsonBinary)
	}

	dir, err := os.MkdirTemp("", "tgs2json-*")
	if err != nil {
		return nil, fmt.Errorf("convert: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.tgs")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("convert: write temp input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("convert: %s failed: %w: %s", tgs2jsonBinary, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return ValidateLottie(stdout.Bytes())
}
