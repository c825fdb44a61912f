// Package oracle wraps the main-brain text model used for planning and
// for response synthesis.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/switchboard/internal/observability"
)

var ErrEmptyResponse = errors.New("oracle returned an empty response")

// Oracle answers a prompt with free text. Callers must not assume the
// text is well-formed.
type Oracle interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Respond(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// LLM is an Oracle backed by a langchaingo model.
type LLM struct {
	Model   llms.Model
	Options []llms.CallOption
	logger  *observability.Logger
}

func NewLLM(model llms.Model, logger *observability.Logger, opts ...llms.CallOption) *LLM {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LLM{Model: model, Options: opts, logger: logger.With("oracle")}
}

func (o *LLM) Respond(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, o.Model, prompt, o.Options...)
	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrEmptyResponse
	}
	o.logger.LogLLM("oracle", prompt, out, err)
	if err != nil {
		return "", fmt.Errorf("oracle call failed: %w", err)
	}
	return out, nil
}

type timeoutOracle struct {
	inner   Oracle
	timeout time.Duration
}

// WithTimeout bounds every call to o. A timeout surfaces as an ordinary
// error wrapping context.DeadlineExceeded.
func WithTimeout(o Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return o
	}
	return &timeoutOracle{inner: o, timeout: d}
}

func (t *timeoutOracle) Respond(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := t.inner.Respond(ctx, prompt)
		ch <- result{text, err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("oracle call abandoned: %w", ctx.Err())
	}
}
