// Package condense compacts conversation windows that exceed the history
// budget into anchors, one synthetic summary entry and recent turns.
package condense

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
)

const (
	// AnchorCount is how many leading entries are always kept.
	AnchorCount = 3

	// RecentCount is how many trailing entries are always kept.
	RecentCount = 7

	// MaxUnsplitWindow is the largest window that is never split.
	MaxUnsplitWindow = AnchorCount + RecentCount

	// PlaceholderSummary stands in for the middle when summarization fails.
	PlaceholderSummary = "[condensation failed: middle messages omitted]"
)

// Budgeter decides whether a window is over budget.
type Budgeter interface {
	NeedsCondensation(entries []message.Entry) bool
}

// Generator produces a single completion for a window.
type Generator interface {
	Generate(ctx context.Context, entries []message.Entry) (string, error)
}

// Marker persists condensation state for stored communications.
type Marker interface {
	MarkCondensed(ctx context.Context, ids []string, summary string) (int, error)
}

// Result describes one Condense call.
type Result struct {
	Window        []message.Entry
	Condensed     bool
	MiddleCount   int
	MarkedCount   int
	SummaryFailed bool
}

// Engine is the CondensationEngine service.
type Engine struct {
	budget    Budgeter
	generator Generator
	marker    Marker
	logger    *zap.Logger
}

// New creates an Engine.
func New(budget Budgeter, generator Generator, marker Marker, logger *zap.Logger) *Engine {
	return &Engine{
		budget:    budget,
		generator: generator,
		marker:    marker,
		logger:    logging.OrNop(logger).Named("condense"),
	}
}

// Condense returns window unchanged when it is within budget or has at most
// MaxUnsplitWindow entries. Otherwise the middle is replaced by one synthetic
// summary entry and the stored communications behind it are marked
// condensed. A failed summary falls back to PlaceholderSummary; only a
// failure to mark is returned as an error.
func (e *Engine) Condense(ctx context.Context, window []message.Entry) (Result, error) {
	unchanged := Result{Window: window}

	if !e.budget.NeedsCondensation(window) {
		return unchanged, nil
	}
	if len(window) <= MaxUnsplitWindow {
		e.logger.Info("window over budget but too short to split",
			zap.Int("entries", len(window)))
		return unchanged, nil
	}

	anchors := window[:AnchorCount]
	middle := window[AnchorCount : len(window)-RecentCount]
	recent := window[len(window)-RecentCount:]

	e.logger.Info("condensing middle entries", zap.Int("middle", len(middle)))

	summary, err := e.summarize(ctx, middle)
	failed := err != nil
	if failed {
		e.logger.Error("summarization failed, using placeholder", zap.Error(err))
		summary = PlaceholderSummary
	}

	// Older synthetic entries in the middle contribute their originals, so
	// every condensed communication ends up under the newest summary.
	ids := message.IDs(middle)

	out := make([]message.Entry, 0, AnchorCount+1+RecentCount)
	out = append(out, anchors...)
	out = append(out, message.Synthetic(summary, len(middle), ids...))
	out = append(out, recent...)

	marked := 0
	if len(ids) > 0 {
		marked, err = e.marker.MarkCondensed(ctx, ids, summary)
		if err != nil {
			return unchanged, err
		}
	}

	e.logger.Info("window condensed",
		zap.Int("before", len(window)),
		zap.Int("after", len(out)),
		zap.Int("marked", marked),
		zap.Bool("placeholder", failed))

	return Result{
		Window:        out,
		Condensed:     true,
		MiddleCount:   len(middle),
		MarkedCount:   marked,
		SummaryFailed: failed,
	}, nil
}

func (e *Engine) summarize(ctx context.Context, middle []message.Entry) (string, error) {
	text, err := e.generator.Generate(ctx, SummaryPrompt(middle))
	if err != nil {
		return "", errors.NewSummarization(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.NewSummarization(stderrors.New("empty summary"))
	}
	return text, nil
}

const summarySystemPrompt = "You are a helpful assistant that summarizes conversation history. " +
	"Keep it concise. Preserve the com_id for each message in the format [com_id: <id>]."

// SummaryPrompt builds the window sent to the generator to summarize middle,
// asking for one line per entry tagged with its communication id.
func SummaryPrompt(middle []message.Entry) []message.Entry {
	var b strings.Builder
	b.WriteString("Summarise the following conversation messages into concise one-line summaries per message.\n")
	b.WriteString("Format each line as:\n")
	b.WriteString("[com_id: <id>] <one-line summary of what was said>\n")
	b.WriteString("\nMessages to summarise:")

	for _, entry := range middle {
		id := entry.ID
		if id == "" {
			id = "no-com_id"
		}
		fmt.Fprintf(&b, "\nRole: %s, ID: %s\nContent: %s\n---", entry.Role, id, entry.Content)
	}

	return []message.Entry{
		{Role: message.RoleSystem, Content: summarySystemPrompt},
		{Role: message.RoleUser, Content: b.String()},
	}
}
