// Package tokens counts subword tokens and derives context budgets.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
)

const (
	// FallbackEncoding is used when the model name has no known encoding.
	FallbackEncoding = "cl100k_base"

	// PerEntryOverhead is charged for every entry of a window (role and separators).
	PerEntryOverhead = 4

	// ReplyPriming is charged once per window for the assistant reply header.
	ReplyPriming = 2
)

func init() {
	// BPE ranks are embedded; counting never touches the network.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Estimator is the TokenBudgetEstimator service.
type Estimator struct {
	enc    *tiktoken.Tiktoken
	budget Budget
	logger *zap.Logger
}

// New creates an Estimator for model with the given context limit.
// An unknown model, or one whose encoding fails to load, falls back to
// cl100k_base with a warning.
func New(model string, contextLimit int, logger *zap.Logger) (*Estimator, error) {
	logger = logging.OrNop(logger).Named("tokens")

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		logger.Warn("unknown tokenizer model, using fallback encoding",
			zap.String("model", model),
			zap.String("encoding", FallbackEncoding),
			zap.Error(err))

		enc, err = tiktoken.GetEncoding(FallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s encoding: %w", FallbackEncoding, err)
		}
	}

	return &Estimator{
		enc:    enc,
		budget: NewBudget(contextLimit),
		logger: logger,
	}, nil
}

// CountTokens returns the number of tokens in text.
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// CountWindowTokens returns the cost of sending entries as a conversation:
// per-entry overhead plus content tokens for each entry, plus reply priming.
func (e *Estimator) CountWindowTokens(entries []message.Entry) int {
	total := ReplyPriming
	for _, entry := range entries {
		total += PerEntryOverhead + e.CountTokens(entry.Content)
	}
	return total
}

// Budget returns the ceilings for the estimator's context limit.
func (e *Estimator) Budget() Budget {
	return e.budget
}

// MeasureHistory measures entries against the history ceiling.
func (e *Estimator) MeasureHistory(entries []message.Entry) Measurement {
	m := Measure(e.CountWindowTokens(entries), e.budget.HistoryCeiling)
	m.MessageCount = len(entries)
	return m
}

// MeasureSystem measures system prompt text against the system ceiling.
func (e *Estimator) MeasureSystem(text string) Measurement {
	return Measure(e.CountTokens(text), e.budget.SystemCeiling)
}

// NeedsCondensation reports whether entries exceed the history ceiling.
func (e *Estimator) NeedsCondensation(entries []message.Entry) bool {
	return !e.MeasureHistory(entries).WithinBudget
}
