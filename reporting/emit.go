package reporting

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Formatter renders report data into one output format.
type Formatter interface {
	Format(data *ReportData) ([]byte, error)
}

// FileName returns the artifact name a format is written to. The list
// format streams to the console and has no file.
func FileName(kind types.FormatKind) string {
	switch kind {
	case types.FormatHTML:
		return "report.html"
	case types.FormatJSON:
		return "results.json"
	case types.FormatJUnit:
		return "results.xml"
	default:
		return ""
	}
}

// Emitter renders runs into the configured formats.
type Emitter struct {
	formatters map[types.FormatKind]Formatter
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithFormatter replaces the formatter used for kind.
func WithFormatter(kind types.FormatKind, f Formatter) EmitterOption {
	return func(e *Emitter) { e.formatters[kind] = f }
}

// NewEmitter returns an emitter with the built-in formatters.
func NewEmitter(opts ...EmitterOption) (*Emitter, error) {
	html, err := NewHTMLFormatter()
	if err != nil {
		return nil, err
	}
	e := &Emitter{formatters: map[types.FormatKind]Formatter{
		types.FormatHTML:  html,
		types.FormatJSON:  &JSONFormatter{},
		types.FormatJUnit: &JUnitFormatter{SuiteName: "op-webcheck"},
		types.FormatList:  NewListFormatter(nil),
	}}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Emit renders run in every requested format. It has no side effects beyond
// producing the serialized outputs, keyed by format.
func (e *Emitter) Emit(ctx context.Context, run Run, formats []types.FormatKind) (map[types.FormatKind][]byte, error) {
	formats = slices.Compact(slices.Sorted(slices.Values(formats)))
	for _, kind := range formats {
		if _, ok := e.formatters[kind]; !ok {
			return nil, fmt.Errorf("unsupported report format %q", kind)
		}
	}

	data := Build(run)
	var mu sync.Mutex
	out := make(map[types.FormatKind][]byte, len(formats))

	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range formats {
		f := e.formatters[kind]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := f.Format(data)
			if err != nil {
				return fmt.Errorf("format %s report: %w", kind, err)
			}
			mu.Lock()
			out[kind] = b
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
