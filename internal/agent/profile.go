package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/llm"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
)

// ProfileWindow is how many recent communications feed a profile update.
const ProfileWindow = 20

const profileInstruction = "Extract durable facts about the user from the conversation below " +
	"(name, preferences, interests, goals, context). Respond only with markdown sections of the form " +
	"\"## <Section>\" followed by the facts. Omit sections you have nothing to say about. " +
	"If there is nothing new, respond with an empty message."

// ProfileWriter merges extracted facts into the stored profile.
type ProfileWriter interface {
	UpdateProfile(text string) (bool, error)
}

// ProfileUpdater learns the user profile from conversation history.
type ProfileUpdater struct {
	generator llm.Generator
	writer    ProfileWriter
	logger    *zap.Logger
}

// NewProfileUpdater creates a ProfileUpdater.
func NewProfileUpdater(generator llm.Generator, writer ProfileWriter, logger *zap.Logger) *ProfileUpdater {
	return &ProfileUpdater{
		generator: generator,
		writer:    writer,
		logger:    logging.OrNop(logger).Named("profile"),
	}
}

// Update asks the generator for profile facts in the last ProfileWindow
// communications of history and merges them. An empty answer is not an error.
func (p *ProfileUpdater) Update(ctx context.Context, history []message.Communication) (bool, error) {
	if len(history) > ProfileWindow {
		history = history[len(history)-ProfileWindow:]
	}
	if len(history) == 0 {
		return false, nil
	}

	var b strings.Builder
	for _, c := range history {
		fmt.Fprintf(&b, "%s: %s\n", c.Sender, c.RawContent)
	}

	text, err := p.generator.Generate(ctx, []message.Entry{
		{Role: message.RoleSystem, Content: profileInstruction},
		{Role: message.RoleUser, Content: b.String()},
	})
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	changed, err := p.writer.UpdateProfile(text)
	if err != nil {
		return false, err
	}
	if changed {
		p.logger.Info("user profile refreshed", zap.Int("messages", len(history)))
	}
	return changed, nil
}
