package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/chain"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/llm"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
	"github.com/hpungsan/tether/internal/notebook"
)

const (
	SenderUser      = message.RoleUser
	SenderAssistant = message.RoleAssistant

	// AnnotationOnlyReply is stored when a reply consisted only of annotations.
	AnnotationOnlyReply = "[notebook updated]"
)

// ChainWriter appends turns to stored conversations.
type ChainWriter interface {
	ChainReader
	Save(ctx context.Context, input chain.SaveInput) (*message.Communication, error)
	Tail(ctx context.Context, id string) (*message.Communication, error)
}

// Annotator applies notebook annotations found in a reply.
type Annotator interface {
	Apply(text string) notebook.ApplyResult
}

// WindowAssembler builds the model window for a turn.
type WindowAssembler interface {
	Assemble(ctx context.Context, conversationID, userText string) ([]message.Entry, error)
}

// Deps wires an Agent.
type Deps struct {
	Store     ChainWriter
	Assembler WindowAssembler
	Generator llm.Generator
	Notebook  Annotator

	// Profile is optional; with it, the user profile is refreshed from the
	// conversation every ProfileEvery turns.
	Profile      *ProfileUpdater
	ProfileEvery int

	Logger *zap.Logger
}

// Agent runs conversation turns.
type Agent struct {
	store     ChainWriter
	assembler WindowAssembler
	generator llm.Generator
	notebook  Annotator
	profile   *ProfileUpdater
	every     int
	logger    *zap.Logger

	mu    sync.Mutex
	turns int
}

// New creates an Agent.
func New(d Deps) *Agent {
	return &Agent{
		store:     d.Store,
		assembler: d.Assembler,
		generator: d.Generator,
		notebook:  d.Notebook,
		profile:   d.Profile,
		every:     d.ProfileEvery,
		logger:    logging.OrNop(d.Logger).Named("agent"),
	}
}

// TurnInput contains parameters for Reply.
type TurnInput struct {
	ConversationID string       // any communication of the conversation; empty starts a new one
	Text           string       // required
	Stream         bool         // forward fragments to OnFragment as they arrive
	OnFragment     func(string) // optional
}

// TurnOutput is the result of Reply.
type TurnOutput struct {
	ConversationID string               `json:"conversation_id"`
	UserID         string               `json:"user_id"`
	ReplyID        string               `json:"reply_id"`
	Reply          string               `json:"reply"`
	Annotations    notebook.ApplyResult `json:"annotations"`
	Interrupted    bool                 `json:"interrupted,omitempty"`
}

// Reply runs one turn. Text received before a generation error or
// cancellation is still annotated and persisted, and Interrupted is set.
// A generation failure that produced no text is returned and nothing is
// persisted.
func (a *Agent) Reply(ctx context.Context, input TurnInput) (*TurnOutput, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, errors.NewInvalidRequest("text is required")
	}

	var predecessor *string
	if input.ConversationID != "" {
		tail, err := a.store.Tail(ctx, input.ConversationID)
		if err != nil {
			return nil, err
		}
		if tail == nil {
			return nil, errors.NewNotFound(input.ConversationID)
		}
		predecessor = &tail.ID
	}

	window, err := a.assembler.Assemble(ctx, input.ConversationID, input.Text)
	if err != nil {
		return nil, err
	}

	var raw string
	if input.Stream {
		raw, err = a.generator.Stream(ctx, window, input.OnFragment)
	} else {
		raw, err = a.generator.Generate(ctx, window)
	}

	interrupted := false
	if err != nil {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("generation failed: %w", err)
		}
		interrupted = true
		a.logger.Warn("generation interrupted, keeping partial reply",
			zap.Int("chars", len(raw)),
			zap.Error(err))
	}

	applied := a.notebook.Apply(raw)
	reply := applied.Text
	if reply == "" {
		reply = AnnotationOnlyReply
	}

	// Persist even if the caller went away mid-stream.
	persistCtx := context.WithoutCancel(ctx)

	user, err := a.store.Save(persistCtx, chain.SaveInput{
		Sender:      SenderUser,
		Recipient:   SenderAssistant,
		Content:     input.Text,
		InitiatorID: predecessor,
	})
	if err != nil {
		return nil, err
	}

	assistant, err := a.store.Save(persistCtx, chain.SaveInput{
		Sender:      SenderAssistant,
		Recipient:   SenderUser,
		Content:     reply,
		InitiatorID: &user.ID,
	})
	if err != nil {
		return nil, err
	}

	conversation := input.ConversationID
	if conversation == "" {
		conversation = user.ID
	}

	a.logger.Info("turn completed",
		zap.String("user_id", user.ID),
		zap.String("reply_id", assistant.ID),
		zap.Int("notes", applied.Appended),
		zap.Int("completed", applied.Completed),
		zap.Bool("interrupted", interrupted))

	a.maybeUpdateProfile(persistCtx, assistant.ID)

	return &TurnOutput{
		ConversationID: conversation,
		UserID:         user.ID,
		ReplyID:        assistant.ID,
		Reply:          reply,
		Annotations:    applied,
		Interrupted:    interrupted,
	}, nil
}

func (a *Agent) maybeUpdateProfile(ctx context.Context, conversationID string) {
	if a.profile == nil || a.every <= 0 {
		return
	}

	a.mu.Lock()
	a.turns++
	due := a.turns%a.every == 0
	a.mu.Unlock()
	if !due {
		return
	}

	history, err := a.store.Chain(ctx, conversationID)
	if err != nil {
		a.logger.Warn("profile update skipped", zap.Error(err))
		return
	}
	if _, err := a.profile.Update(ctx, history); err != nil {
		a.logger.Warn("profile update failed", zap.Error(err))
	}
}
