package scoring

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrOracleTimeout     = errors.New("oracle timeout")
)

// EventText is what the oracle sees of an event.
type EventText struct {
	EventID     string
	Title       string
	Body        string
	URL         string
	Category    string
	Sources     []string
	PublishedAt time.Time
}

// Oracle proposes a bounded adjustment on top of the heuristic score. Any error means
// "no adjustment"; callers never fail a run because of it.
type Oracle interface {
	Adjust(ctx context.Context, text EventText) (float64, error)
	// Name identifies the oracle and model for cache keys.
	Name() string
}

// Verdict is an oracle delta with an optional one-line justification.
type Verdict struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason,omitempty"`
}

// Explainer is implemented by oracles that can say why they chose a delta. The scorer
// prefers Explain over Adjust when both exist.
type Explainer interface {
	Explain(ctx context.Context, text EventText) (Verdict, error)
}

func consult(ctx context.Context, oracle Oracle, text EventText) (Verdict, error) {
	if e, ok := oracle.(Explainer); ok {
		return e.Explain(ctx, text)
	}
	delta, err := oracle.Adjust(ctx, text)
	return Verdict{Delta: delta}, err
}

// OracleFunc adapts a function into an Oracle.
type OracleFunc struct {
	Label string
	Fn    func(ctx context.Context, text EventText) (float64, error)
}

func (f OracleFunc) Adjust(ctx context.Context, text EventText) (float64, error) {
	if f.Fn == nil {
		return 0, ErrOracleUnavailable
	}
	return f.Fn(ctx, text)
}

func (f OracleFunc) Name() string {
	if f.Label == "" {
		return "func"
	}
	return f.Label
}
