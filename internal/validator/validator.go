// Package validator checks that referenced temp assets exist before they are
// promoted.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/maneesh/blogmedia/internal/executor"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/paths"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("blogmedia-validator")

// maxListed caps how many missing paths appear in an error message. The full
// list is always carried in the error data.
const maxListed = 5

// Asset is a validated temp asset.
type Asset struct {
	Input        string
	RelativePath string
	AbsolutePath string
	SizeBytes    int64
}

// Validator checks assets under an authorized root.
type Validator struct {
	root        *paths.Resolver
	concurrency int
}

// New returns a validator for the store served by root.
func New(root *paths.Resolver, concurrency int) *Validator {
	return &Validator{root: root, concurrency: concurrency}
}

// ValidateExists resolves input and requires a non-empty regular file.
func (v *Validator) ValidateExists(ctx context.Context, input string) (Asset, error) {
	const op = "validate"

	rel, abs, err := v.root.Absolute(input)
	if err != nil {
		return Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return Asset{}, mediaerr.Internal(op, rel, err)
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Asset{}, mediaerr.NotFound(op, rel, err)
	case err != nil:
		return Asset{}, mediaerr.Internal(op, rel, err)
	case !info.Mode().IsRegular():
		return Asset{}, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Path: rel, Code: "NOT_A_FILE", Message: "not a regular file"}
	case info.Size() == 0:
		return Asset{}, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Path: rel, Code: "EMPTY_FILE", Message: "file is empty"}
	}

	return Asset{Input: input, RelativePath: rel, AbsolutePath: abs, SizeBytes: info.Size()}, nil
}

// ValidateExistsBatch validates all inputs concurrently. Any failure other
// than a missing file aborts with that failure; otherwise every missing path
// is reported in one NotFound error.
func (v *Validator) ValidateExistsBatch(ctx context.Context, inputs []string) ([]Asset, error) {
	ctx, span := tracer.Start(ctx, "validate_batch",
		trace.WithAttributes(attribute.Int("asset_count", len(inputs))),
	)
	defer span.End()

	results := executor.RunBounded(ctx, inputs, v.concurrency, func(ctx context.Context, _ int, in string) (Asset, error) {
		return v.ValidateExists(ctx, in)
	})

	assets := make([]Asset, len(inputs))
	var missing []string
	for i, r := range results {
		switch {
		case r.Err == nil:
			assets[i] = r.Value
		case mediaerr.Is(r.Err, mediaerr.KindNotFound):
			missing = append(missing, inputs[i])
		default:
			span.RecordError(r.Err)
			return nil, r.Err
		}
	}

	if len(missing) > 0 {
		span.SetAttributes(attribute.Int("missing_count", len(missing)))
		return nil, missingError(missing)
	}
	return assets, nil
}

func missingError(missing []string) *mediaerr.Error {
	listed := missing
	suffix := ""
	if len(listed) > maxListed {
		listed = listed[:maxListed]
		suffix = fmt.Sprintf(" and %d more", len(missing)-maxListed)
	}
	return &mediaerr.Error{
		Kind:    mediaerr.KindNotFound,
		Op:      "validate",
		Code:    "FILES_NOT_FOUND",
		Message: fmt.Sprintf("%d referenced files are missing: %s%s", len(missing), strings.Join(listed, ", "), suffix),
		Data:    map[string]any{"missingPaths": missing, "missingCount": len(missing)},
	}
}
