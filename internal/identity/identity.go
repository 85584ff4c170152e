// Package identity reads the agent's static identity documents and renders
// the system prompt. USER.md is the only document it ever writes.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/fileio"
	"github.com/hpungsan/tether/internal/logging"
)

const (
	AgentFile = "AGENT.md"
	SoulFile  = "SOUL.md"
	UserFile  = "USER.md"

	NoProfile = "No user profile yet. Learn about the user through conversation."
	NoNotes   = "No notes yet."
)

// Source is the identity document source for one agent directory.
type Source struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

// New creates a Source over dir.
func New(dir string, logger *zap.Logger) *Source {
	return &Source{dir: dir, logger: logging.OrNop(logger).Named("identity")}
}

// Dir returns the agent directory.
func (s *Source) Dir() string { return s.dir }

// Read returns a document verbatim. Missing or unreadable documents read as
// empty and are logged.
func (s *Source) Read(name string) string {
	path := filepath.Join(s.dir, name)
	content, ok, err := fileio.ReadOptional(path)
	if err != nil {
		s.logger.Error("failed to read identity document", zap.String("path", path), zap.Error(err))
		return ""
	}
	if !ok {
		s.logger.Warn("identity document not found", zap.String("path", path))
	}
	return content
}

// Profile returns USER.md.
func (s *Source) Profile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Read(UserFile)
}

// SystemPrompt renders the identity documents and the notebook tail.
func (s *Source) SystemPrompt(notebookTail []string) string {
	agent := s.Read(AgentFile)
	soul := s.Read(SoulFile)
	profile := s.Profile()

	if strings.TrimSpace(profile) == "" {
		profile = NoProfile
	}
	notes := strings.Join(notebookTail, "\n")
	if strings.TrimSpace(notes) == "" {
		notes = NoNotes
	}

	var b strings.Builder
	b.WriteString("You are the Tether agent. Below are your core identity files that define who you are, ")
	b.WriteString("how you behave, and what you know about the current user.\n\n")
	fmt.Fprintf(&b, "=== AGENT DEFINITION (Capabilities & Rules) ===\n%s\n\n", agent)
	fmt.Fprintf(&b, "=== SOUL DEFINITION (Personality & Ethics) ===\n%s\n\n", soul)
	fmt.Fprintf(&b, "=== USER PROFILE ===\n%s\n\n", profile)
	fmt.Fprintf(&b, "=== WORKING NOTEBOOK (Recent Notes) ===\n%s\n\n", notes)
	b.WriteString("=== INSTRUCTIONS ===\n")
	b.WriteString("- Respond naturally based on your SOUL personality\n")
	b.WriteString("- Follow all rules defined in your AGENT definition\n")
	b.WriteString("- Reference USER profile to personalize responses\n")
	b.WriteString("- Check NOTEBOOK for any pending tasks or context\n")
	b.WriteString("- Record a task with [NOTE: <task>] and close it with [COMPLETE: <keyword>]\n")
	b.WriteString("- Keep responses helpful, direct, and conversational\n")
	return b.String()
}

// UpdateProfile merges the "## Section" blocks of text into USER.md and
// reports whether the file changed.
func (s *Source) UpdateProfile(text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, errors.NewInvalidRequest("profile text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, UserFile)
	existing, _, err := fileio.ReadOptional(path)
	if err != nil {
		return false, errors.NewPersistence("profile read", err)
	}

	merged := RenderSections(MergeSections(ParseSections(existing), ParseSections(text)))
	if merged == existing {
		return false, nil
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return false, errors.NewPersistence("profile write", err)
	}
	if err := fileio.WriteAtomic(path, []byte(merged), 0600); err != nil {
		return false, errors.NewPersistence("profile write", err)
	}

	s.logger.Info("user profile updated", zap.Int("bytes", len(merged)))
	return true, nil
}
