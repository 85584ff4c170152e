// Package agent assembles model context for a conversation turn and runs
// the turn end to end: generate, apply notebook annotations, persist.
package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/condense"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
	"github.com/hpungsan/tether/internal/tokens"
)

// ChainReader reads stored conversations.
type ChainReader interface {
	Chain(ctx context.Context, id string) ([]message.Communication, error)
}

// Condenser compacts over-budget windows.
type Condenser interface {
	Condense(ctx context.Context, window []message.Entry) (condense.Result, error)
}

// NotebookReader projects the notebook into the system prompt.
type NotebookReader interface {
	Tail(n int) ([]string, error)
}

// PromptSource renders the system prompt.
type PromptSource interface {
	SystemPrompt(notebookTail []string) string
}

// SystemMeasurer measures the system prompt against its ceiling.
type SystemMeasurer interface {
	MeasureSystem(text string) tokens.Measurement
}

// Assembler is the ContextAssembler.
type Assembler struct {
	chain     ChainReader
	condenser Condenser
	notebook  NotebookReader
	identity  PromptSource
	measurer  SystemMeasurer
	tailLines int
	logger    *zap.Logger
}

// NewAssembler creates an Assembler. tailLines notebook lines are projected
// into the system prompt.
func NewAssembler(chain ChainReader, condenser Condenser, notebook NotebookReader, identity PromptSource, measurer SystemMeasurer, tailLines int, logger *zap.Logger) *Assembler {
	return &Assembler{
		chain:     chain,
		condenser: condenser,
		notebook:  notebook,
		identity:  identity,
		measurer:  measurer,
		tailLines: tailLines,
		logger:    logging.OrNop(logger).Named("assembler"),
	}
}

// Assemble builds the window for a new user turn in the conversation
// containing conversationID (empty starts a new conversation): the system
// prompt, then stored history plus userText, condensed if over budget.
// A condensation failure falls back to the uncondensed window.
func (a *Assembler) Assemble(ctx context.Context, conversationID, userText string) ([]message.Entry, error) {
	var history []message.Entry
	if conversationID != "" {
		chain, err := a.chain.Chain(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		history = message.WindowFromChain(chain)
	}

	window := append(history, message.Entry{Role: message.RoleUser, Content: userText})

	res, err := a.condenser.Condense(ctx, window)
	if err != nil {
		a.logger.Warn("condensation failed, using uncondensed window",
			zap.String("conversation", conversationID),
			zap.Int("entries", len(window)),
			zap.Error(err))
	} else {
		window = res.Window
	}

	tail, err := a.notebook.Tail(a.tailLines)
	if err != nil {
		a.logger.Warn("failed to read notebook tail", zap.Error(err))
		tail = nil
	}

	system := a.identity.SystemPrompt(tail)
	if a.measurer != nil {
		if m := a.measurer.MeasureSystem(system); !m.WithinBudget {
			a.logger.Warn("system prompt exceeds its ceiling",
				zap.Int("tokens", m.Count),
				zap.Int("ceiling", m.Ceiling))
		}
	}

	out := make([]message.Entry, 0, len(window)+1)
	out = append(out, message.Entry{Role: message.RoleSystem, Content: system})
	out = append(out, window...)
	return out, nil
}
