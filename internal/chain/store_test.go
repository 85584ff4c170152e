package chain

import (
	"context"
	"sync"
	"testing"

	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/message"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database, nil)
}

func save(t *testing.T, s *Store, sender, content string, initiator *string) *message.Communication {
	t.Helper()
	recipient := "assistant"
	if sender == "assistant" {
		recipient = "user"
	}
	c, err := s.Save(context.Background(), SaveInput{
		Sender:      sender,
		Recipient:   recipient,
		Content:     content,
		InitiatorID: initiator,
	})
	if err != nil {
		t.Fatalf("Save(%q) error = %v", content, err)
	}
	return c
}

func ids(chain []message.Communication) []string {
	out := make([]string, len(chain))
	for i, c := range chain {
		out[i] = c.ID
	}
	return out
}

func TestSave_Root(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "hello", nil)
	if a.ID == "" || len(a.ID) != 26 {
		t.Errorf("ID = %q, want 26-char ULID", a.ID)
	}
	if !a.IsRoot() {
		t.Error("first communication should be a root")
	}

	roots, err := s.ListRoots(ctx)
	if err != nil {
		t.Fatalf("ListRoots() error = %v", err)
	}
	if len(roots) != 1 || roots[0].ID != a.ID {
		t.Errorf("ListRoots() = %v, want [%s]", roots, a.ID)
	}
}

func TestSave_LinksBothDirections(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "hello", nil)
	b := save(t, s, "assistant", "hi", &a.ID)

	gotA, err := s.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gotA.ExitorID == nil || *gotA.ExitorID != b.ID {
		t.Errorf("a.ExitorID = %v, want %s", gotA.ExitorID, b.ID)
	}

	gotB, _ := s.Get(ctx, b.ID)
	if gotB.InitiatorID == nil || *gotB.InitiatorID != a.ID {
		t.Errorf("b.InitiatorID = %v, want %s", gotB.InitiatorID, a.ID)
	}
	if gotB.ExitorID != nil {
		t.Errorf("b.ExitorID = %v, want nil", *gotB.ExitorID)
	}

	// Non-roots are not registered
	roots, _ := s.ListRoots(ctx)
	if len(roots) != 1 {
		t.Errorf("len(roots) = %d, want 1", len(roots))
	}
}

func TestSave_Validation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input SaveInput
	}{
		{"empty content", SaveInput{Sender: "user", Recipient: "assistant"}},
		{"empty sender", SaveInput{Recipient: "assistant", Content: "x"}},
		{"empty recipient", SaveInput{Sender: "user", Content: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Save(ctx, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("Save() error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestSave_UnknownInitiator(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ghost := "01HZZZZZZZZZZZZZZZZZZZZZZZ"
	_, err := s.Save(ctx, SaveInput{Sender: "user", Recipient: "assistant", Content: "x", InitiatorID: &ghost})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("Save() error = %v, want INVALID_REQUEST", err)
	}

	// Nothing was persisted
	roots, _ := s.ListRoots(ctx)
	if len(roots) != 0 {
		t.Errorf("len(roots) = %d, want 0", len(roots))
	}
}

func TestSave_RejectsBranching(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "hello", nil)
	b := save(t, s, "assistant", "hi", &a.ID)

	_, err := s.Save(ctx, SaveInput{Sender: "user", Recipient: "assistant", Content: "fork", InitiatorID: &a.ID})
	if !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("Save() error = %v, want CONFLICT", err)
	}

	// a still points at b
	gotA, _ := s.Get(ctx, a.ID)
	if gotA.ExitorID == nil || *gotA.ExitorID != b.ID {
		t.Errorf("a.ExitorID = %v, want %s", gotA.ExitorID, b.ID)
	}
	chain, _ := s.Chain(ctx, a.ID)
	if len(chain) != 2 {
		t.Errorf("len(chain) = %d, want 2", len(chain))
	}
}

func TestSave_ConcurrentSuccessors(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "hello", nil)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
		other     []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Save(ctx, SaveInput{Sender: "assistant", Recipient: "user", Content: "reply", InitiatorID: &a.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errors.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if ok != 1 || conflicts != workers-1 {
		t.Errorf("ok = %d, conflicts = %d; want 1 and %d", ok, conflicts, workers-1)
	}

	chain, err := s.Chain(ctx, a.ID)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("len(chain) = %d, want 2", len(chain))
	}
}

func TestChain_FromAnyNode(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "A", nil)
	b := save(t, s, "assistant", "B", &a.ID)
	c := save(t, s, "user", "C", &b.ID)
	want := []string{a.ID, b.ID, c.ID}

	for _, start := range want {
		chain, err := s.Chain(ctx, start)
		if err != nil {
			t.Fatalf("Chain(%s) error = %v", start, err)
		}
		got := ids(chain)
		if len(got) != len(want) {
			t.Fatalf("Chain(%s) = %v, want %v", start, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Chain(%s)[%d] = %s, want %s", start, i, got[i], want[i])
			}
		}
	}
}

func TestChain_UnknownID(t *testing.T) {
	s := setupStore(t)

	chain, err := s.Chain(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if chain == nil || len(chain) != 0 {
		t.Errorf("Chain(missing) = %v, want empty", chain)
	}
}

func TestChain_IndependentConversations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "first", nil)
	save(t, s, "assistant", "reply", &a.ID)
	x := save(t, s, "user", "second", nil)

	chain, _ := s.Chain(ctx, x.ID)
	if len(chain) != 1 || chain[0].ID != x.ID {
		t.Errorf("Chain(x) = %v, want [x]", ids(chain))
	}

	roots, _ := s.ListRoots(ctx)
	if len(roots) != 2 {
		t.Fatalf("len(roots) = %d, want 2", len(roots))
	}
}

func TestChain_HaltsOnBrokenLink(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "A", nil)
	b := save(t, s, "assistant", "B", &a.ID)
	c := save(t, s, "user", "C", &b.ID)

	// Corrupt b's forward pointer so c is unreachable walking forward
	if _, err := s.db.ExecContext(ctx, `UPDATE communications SET exitor_id = 'nowhere' WHERE id = ?`, b.ID); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	chain, err := s.Chain(ctx, a.ID)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	got := ids(chain)
	if len(got) != 2 || got[0] != a.ID || got[1] != b.ID {
		t.Errorf("Chain(a) = %v, want [a b]", got)
	}

	// Walking backward from c stops at c: b no longer points forward at it
	chain, _ = s.Chain(ctx, c.ID)
	if len(chain) != 1 || chain[0].ID != c.ID {
		t.Errorf("Chain(c) = %v, want [c]", ids(chain))
	}
}

func TestTail(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "A", nil)
	b := save(t, s, "assistant", "B", &a.ID)
	c := save(t, s, "user", "C", &b.ID)

	for _, start := range []string{a.ID, b.ID, c.ID} {
		tail, err := s.Tail(ctx, start)
		if err != nil {
			t.Fatalf("Tail() error = %v", err)
		}
		if tail == nil || tail.ID != c.ID {
			t.Errorf("Tail(%s) = %v, want %s", start, tail, c.ID)
		}
	}

	tail, err := s.Tail(ctx, "missing")
	if err != nil || tail != nil {
		t.Errorf("Tail(missing) = %v, %v; want nil, nil", tail, err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := setupStore(t)

	c, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c != nil {
		t.Errorf("Get(missing) = %+v, want nil", c)
	}
}

func TestMarkCondensedAndRecall(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := save(t, s, "user", "original A", nil)
	b := save(t, s, "assistant", "original B", &a.ID)

	n, err := s.MarkCondensed(ctx, []string{a.ID, b.ID, b.ID, "ghost"}, "A and B greeted")
	if err != nil {
		t.Fatalf("MarkCondensed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MarkCondensed() = %d, want 2", n)
	}

	r, err := s.Recall(ctx, b.ID)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if r.RawContent != "original B" {
		t.Errorf("RawContent = %q, want original B", r.RawContent)
	}
	if !r.IsCondensed || r.CondensedSummary == nil || *r.CondensedSummary != "A and B greeted" {
		t.Errorf("Recall() = %+v", r)
	}

	// Repeating the same call changes nothing
	n2, err := s.MarkCondensed(ctx, []string{a.ID, b.ID, b.ID, "ghost"}, "A and B greeted")
	if err != nil {
		t.Fatalf("MarkCondensed() repeat error = %v", err)
	}
	if n2 != n {
		t.Errorf("MarkCondensed() repeat = %d, want %d", n2, n)
	}
	for _, id := range []string{a.ID, b.ID} {
		r, err := s.Recall(ctx, id)
		if err != nil {
			t.Fatalf("Recall() error = %v", err)
		}
		if !r.IsCondensed || r.CondensedSummary == nil || *r.CondensedSummary != "A and B greeted" {
			t.Errorf("Recall(%s) after repeat = %+v", id, r)
		}
	}

	// Chain structure is unchanged
	chain, _ := s.Chain(ctx, a.ID)
	if len(chain) != 2 {
		t.Errorf("len(chain) = %d, want 2", len(chain))
	}
}

func TestMarkCondensed_Empty(t *testing.T) {
	s := setupStore(t)

	n, err := s.MarkCondensed(context.Background(), nil, "x")
	if err != nil || n != 0 {
		t.Errorf("MarkCondensed(nil) = %d, %v; want 0, nil", n, err)
	}
}

func TestRecall_Missing(t *testing.T) {
	s := setupStore(t)

	r, err := s.Recall(context.Background(), "missing")
	if err != nil || r != nil {
		t.Errorf("Recall(missing) = %v, %v; want nil, nil", r, err)
	}
}
