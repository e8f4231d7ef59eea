package llm

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"go.uber.org/zap"
)

// ResilientConfig bounds retries and the per-call deadline.
type ResilientConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Timeout      time.Duration
}

// Resilient retries transient upstream failures with exponential backoff
// and enforces an overall deadline. Client errors are returned at once.
type Resilient struct {
	inner  Generator
	cfg    ResilientConfig
	logger *zap.Logger
}

func NewResilient(inner Generator, cfg ResilientConfig, logger *zap.Logger) *Resilient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{inner: inner, cfg: cfg, logger: logger}
}

func (r *Resilient) Generate(ctx context.Context, p Prompt) (string, error) {
	return r.run(ctx, func(ctx context.Context) (string, error) {
		return r.inner.Generate(ctx, p)
	}, nil)
}

// Stream retries only while nothing has been emitted; once fragments have
// reached the caller a failure is final.
func (r *Resilient) Stream(ctx context.Context, p Prompt, onFragment func(string)) (string, error) {
	s, ok := r.inner.(Streamer)
	if !ok {
		text, err := r.Generate(ctx, p)
		if err == nil && onFragment != nil {
			onFragment(text)
		}
		return text, err
	}
	emitted := false
	return r.run(ctx, func(ctx context.Context) (string, error) {
		return s.Stream(ctx, p, func(f string) {
			emitted = true
			if onFragment != nil {
				onFragment(f)
			}
		})
	}, func() bool { return emitted })
}

func (r *Resilient) run(ctx context.Context, call func(context.Context) (string, error), final func() bool) (string, error) {
	rt := retry.New[string](retry.Config{
		MaxAttempts:   r.cfg.MaxAttempts,
		InitialDelay:  r.cfg.InitialDelay,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable: func(err error) bool {
			return Classify(err).Transient() && (final == nil || !final())
		},
		OnRetry: func(attempt int, err error) {
			r.logger.Warn("llm call failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("class", Classify(err).String()),
				zap.Error(err),
			)
		},
	})
	tm := timeout.New[string](timeout.Config{DefaultTimeout: r.cfg.Timeout})

	out, err := tm.Execute(ctx, r.cfg.Timeout, func(ctx context.Context) (string, error) {
		return rt.Do(ctx, call)
	})
	if err != nil {
		r.logger.Warn("llm call failed", zap.String("class", Classify(err).String()), zap.Error(err))
	}
	return out, err
}
