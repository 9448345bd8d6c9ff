// Package analyzer runs the external static-analysis helper against a
// working copy and decodes the endpoint descriptors it prints.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/command"
	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/models"
)

var (
	errNotArray     = errors.New("expected a JSON array, got null")
	errTrailingData = errors.New("unexpected data after the JSON array")
)

// Extractor invokes the analyzer as `<command...> <abs working copy>`.
type Extractor struct {
	command []string
	runner  command.Runner
	logger  *zap.Logger
}

// NewExtractor creates an extractor. cmd must hold at least the program;
// any further elements are passed before the working copy path.
func NewExtractor(cmd []string, runner command.Runner, logger *zap.Logger) *Extractor {
	return &Extractor{
		command: cmd,
		runner:  runner,
		logger:  logging.Component(logger, "analyzer"),
	}
}

// Extract runs the analyzer and returns the descriptors in output order.
// An empty JSON array yields an empty, non-nil slice.
func (e *Extractor) Extract(ctx context.Context, workingCopy string) ([]models.EndpointDescriptor, error) {
	if len(e.command) == 0 {
		return nil, apperr.New(apperr.KindExtract, "extract", "no analyzer command configured")
	}

	abs, err := filepath.Abs(workingCopy)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtract, "extract", err, "failed to resolve working copy")
	}

	args := append(append([]string{}, e.command[1:]...), abs)
	res, err := e.runner.Run(ctx, "", e.command[0], args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtract, "extract", err, "analyzer %s failed", e.command[0]).WithOutput(res.Output)
	}
	if res.ExitCode != 0 {
		return nil, apperr.New(apperr.KindExtract, "extract", "analyzer exited with code %d", res.ExitCode).WithOutput(res.Output)
	}

	descs, err := Decode(res.Stdout)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtract, "extract", err, "analyzer output is not a JSON array of endpoints").WithOutput(res.Output)
	}

	e.logger.Info("analyzer finished",
		zap.String("working_copy", abs),
		zap.Int("descriptors", len(descs)),
		zap.Duration("duration", res.Duration))
	return descs, nil
}

// Decode parses analyzer stdout: exactly one JSON array of descriptor
// objects, optionally surrounded by whitespace.
func Decode(data []byte) ([]models.EndpointDescriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	descs := []models.EndpointDescriptor{}
	if err := dec.Decode(&descs); err != nil {
		return nil, err
	}
	if descs == nil {
		// a literal null decodes into a nil slice
		return nil, errNotArray
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return descs, nil
}
