// Package chain implements the durable, doubly-linked communications log.
//
// Every conversation is a simple path: a root (no initiator) followed by
// successors, each pointing back at its predecessor (initiator) while the
// predecessor points forward at it (exitor). Roots are also recorded in an
// ordered registry.
package chain

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
)

// Store is the ChainStore service.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Store over an initialized database.
func New(database *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     database,
		logger: logging.OrNop(logger).Named("chain"),
		now:    time.Now,
	}
}

// SaveInput contains parameters for the Save operation.
type SaveInput struct {
	Sender      string  // required
	Recipient   string  // required
	Content     string  // required
	InitiatorID *string // predecessor; nil starts a new conversation
}

// Save stores a new communication. With an initiator, the insert and the
// predecessor's exitor back-fill commit together; without one, the insert
// and the root registration commit together.
func (s *Store) Save(ctx context.Context, input SaveInput) (*message.Communication, error) {
	if strings.TrimSpace(input.Sender) == "" {
		return nil, errors.NewInvalidRequest("sender is required")
	}
	if strings.TrimSpace(input.Recipient) == "" {
		return nil, errors.NewInvalidRequest("recipient is required")
	}
	if input.Content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if input.InitiatorID != nil && strings.TrimSpace(*input.InitiatorID) == "" {
		input.InitiatorID = nil
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	c := &message.Communication{
		ID:          id,
		Sender:      input.Sender,
		Recipient:   input.Recipient,
		CreatedAt:   s.now().Unix(),
		RawContent:  input.Content,
		InitiatorID: input.InitiatorID,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewPersistence("begin save", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := db.InsertCommunication(ctx, tx, c); err != nil {
		if err == db.ErrUniqueConstraint && c.InitiatorID != nil {
			return nil, errors.NewConflict(fmt.Sprintf("initiator %s already has a successor", *c.InitiatorID))
		}
		return nil, err
	}

	if c.InitiatorID != nil {
		if err := s.backfill(ctx, tx, *c.InitiatorID, id); err != nil {
			return nil, err
		}
	} else {
		if err := db.RegisterRoot(ctx, tx, id, c.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewPersistence("commit save", err)
	}

	s.logger.Debug("communication saved",
		zap.String("id", id),
		zap.String("sender", c.Sender),
		zap.Bool("root", c.IsRoot()))

	return c, nil
}

// backfill links predecessorID forward to successorID, distinguishing an
// unknown predecessor from one that already has a successor.
func (s *Store) backfill(ctx context.Context, q db.Querier, predecessorID, successorID string) error {
	n, err := db.BackfillExitor(ctx, q, predecessorID, successorID)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	exists, err := db.CommunicationExists(ctx, q, predecessorID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NewInvalidRequest(fmt.Sprintf("initiator not found: %s", predecessorID))
	}
	return errors.NewConflict(fmt.Sprintf("initiator %s already has a successor", predecessorID))
}

// Get returns the communication with id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id string) (*message.Communication, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	c, err := db.GetCommunication(ctx, s.db, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Chain returns the whole conversation containing id, root first.
// An unknown id yields an empty chain. Traversal halts at the first broken
// pointer (missing node, mismatched back-link, revisited node) and returns
// what it has collected so far.
func (s *Store) Chain(ctx context.Context, id string) ([]message.Communication, error) {
	start, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return []message.Communication{}, nil
	}

	visited := map[string]bool{start.ID: true}

	// Walk backward to the root
	backward := []message.Communication{*start}
	cur := start
	for cur.InitiatorID != nil {
		prev, err := s.Get(ctx, *cur.InitiatorID)
		if err != nil {
			return nil, err
		}
		if prev == nil || visited[prev.ID] || prev.ExitorID == nil || *prev.ExitorID != cur.ID {
			s.logger.Warn("chain integrity: backward walk halted",
				zap.String("at", cur.ID),
				zap.String("initiator", *cur.InitiatorID))
			break
		}
		visited[prev.ID] = true
		backward = append(backward, *prev)
		cur = prev
	}

	chain := make([]message.Communication, 0, len(backward))
	for i := len(backward) - 1; i >= 0; i-- {
		chain = append(chain, backward[i])
	}

	forward, err := s.walkForward(ctx, start, visited)
	if err != nil {
		return nil, err
	}
	return append(chain, forward...), nil
}

// Tail returns the last communication of the conversation containing id,
// or nil if id is unknown.
func (s *Store) Tail(ctx context.Context, id string) (*message.Communication, error) {
	start, err := s.Get(ctx, id)
	if err != nil || start == nil {
		return nil, err
	}

	forward, err := s.walkForward(ctx, start, map[string]bool{start.ID: true})
	if err != nil {
		return nil, err
	}
	if len(forward) == 0 {
		return start, nil
	}
	return &forward[len(forward)-1], nil
}

// walkForward follows exitor pointers after from (exclusive).
func (s *Store) walkForward(ctx context.Context, from *message.Communication, visited map[string]bool) ([]message.Communication, error) {
	var out []message.Communication
	cur := from
	for cur.ExitorID != nil {
		next, err := s.Get(ctx, *cur.ExitorID)
		if err != nil {
			return nil, err
		}
		if next == nil || visited[next.ID] || next.InitiatorID == nil || *next.InitiatorID != cur.ID {
			s.logger.Warn("chain integrity: forward walk halted",
				zap.String("at", cur.ID),
				zap.String("exitor", *cur.ExitorID))
			break
		}
		visited[next.ID] = true
		out = append(out, *next)
		cur = next
	}
	return out, nil
}

// ListRoots returns registered conversation roots, newest first.
func (s *Store) ListRoots(ctx context.Context) ([]message.RootRef, error) {
	return db.ListRoots(ctx, s.db)
}

// MarkCondensed flags existing ids as condensed into summary and returns how
// many communications matched. Unknown ids are skipped and duplicates are
// counted once; repeating a call is harmless.
func (s *Store) MarkCondensed(ctx context.Context, ids []string, summary string) (int, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return 0, nil
	}

	n, err := db.MarkCondensed(ctx, s.db, unique, summary)
	if err != nil {
		return 0, err
	}

	s.logger.Info("communications condensed",
		zap.Int("requested", len(unique)),
		zap.Int64("matched", n))

	return int(n), nil
}

// Recall returns the original content of id alongside its condensation
// state, or nil if id is unknown.
func (s *Store) Recall(ctx context.Context, id string) (*message.Recollection, error) {
	c, err := s.Get(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	return &message.Recollection{
		ID:               c.ID,
		RawContent:       c.RawContent,
		IsCondensed:      c.IsCondensed,
		CondensedSummary: c.CondensedSummary,
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
