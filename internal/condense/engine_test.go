package condense

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpungsan/tether/internal/message"
)

type fakeBudget struct{ over bool }

func (f fakeBudget) NeedsCondensation([]message.Entry) bool { return f.over }

type fakeGenerator struct {
	reply string
	err   error
	calls int
	got   []message.Entry
}

func (f *fakeGenerator) Generate(_ context.Context, entries []message.Entry) (string, error) {
	f.calls++
	f.got = entries
	return f.reply, f.err
}

type fakeMarker struct {
	ids     []string
	summary string
	calls   int
	err     error
}

func (f *fakeMarker) MarkCondensed(_ context.Context, ids []string, summary string) (int, error) {
	f.calls++
	f.ids = append([]string(nil), ids...)
	f.summary = summary
	return len(ids), f.err
}

// window builds n entries with content "0".."n-1" and ids "id0".."id(n-1)".
func window(n int) []message.Entry {
	out := make([]message.Entry, n)
	for i := range out {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		out[i] = message.Entry{Role: role, Content: strconv.Itoa(i), ID: "id" + strconv.Itoa(i)}
	}
	return out
}

func TestCondense_WithinBudget(t *testing.T) {
	gen := &fakeGenerator{reply: "summary"}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: false}, gen, marker, nil)

	in := window(30)
	res, err := e.Condense(context.Background(), in)
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if res.Condensed {
		t.Error("Condensed = true, want false")
	}
	if diff := cmp.Diff(in, res.Window); diff != "" {
		t.Errorf("window changed (-want +got):\n%s", diff)
	}
	if gen.calls != 0 || marker.calls != 0 {
		t.Errorf("collaborators called: generate=%d mark=%d", gen.calls, marker.calls)
	}
}

func TestCondense_ShortWindowUnchanged(t *testing.T) {
	for _, n := range []int{0, 1, 5, 10} {
		gen := &fakeGenerator{reply: "summary"}
		marker := &fakeMarker{}
		e := New(fakeBudget{over: true}, gen, marker, nil)

		in := window(n)
		res, err := e.Condense(context.Background(), in)
		if err != nil {
			t.Fatalf("Condense(%d) error = %v", n, err)
		}
		if diff := cmp.Diff(in, res.Window); diff != "" {
			t.Errorf("Condense(%d) changed window (-want +got):\n%s", n, diff)
		}
		if gen.calls != 0 || marker.calls != 0 {
			t.Errorf("Condense(%d): collaborators called", n)
		}
	}
}

func TestCondense_ElevenEntries(t *testing.T) {
	gen := &fakeGenerator{reply: "[com_id: id3] said 3"}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, gen, marker, nil)

	res, err := e.Condense(context.Background(), window(11))
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if len(res.Window) != 11 {
		t.Fatalf("len(window) = %d, want 11", len(res.Window))
	}
	if got := res.Window[3]; !got.Condensed || got.MessageCount != 1 {
		t.Errorf("synthetic = %+v, want message_count 1", got)
	}
	if diff := cmp.Diff([]string{"id3"}, marker.ids); diff != "" {
		t.Errorf("marked ids (-want +got):\n%s", diff)
	}
}

func TestCondense_FifteenEntries(t *testing.T) {
	gen := &fakeGenerator{reply: "  middle summary  "}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, gen, marker, nil)

	in := window(15)
	res, err := e.Condense(context.Background(), in)
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}

	want := make([]message.Entry, 0, 11)
	want = append(want, in[:3]...)
	want = append(want, message.Entry{
		Role:         message.RoleSystem,
		Content:      "middle summary",
		Condensed:    true,
		MessageCount: 5,
		SourceIDs:    []string{"id3", "id4", "id5", "id6", "id7"},
	})
	want = append(want, in[8:]...)

	if diff := cmp.Diff(want, res.Window); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	if !res.Condensed || res.MiddleCount != 5 || res.MarkedCount != 5 || res.SummaryFailed {
		t.Errorf("result = %+v", res)
	}
	if marker.summary != "middle summary" {
		t.Errorf("marked summary = %q", marker.summary)
	}

	// Input is not modified
	if diff := cmp.Diff(window(15), in); diff != "" {
		t.Errorf("input mutated (-want +got):\n%s", diff)
	}
}

func TestCondense_TwentyEntries(t *testing.T) {
	gen := &fakeGenerator{reply: "summary"}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, gen, marker, nil)

	res, err := e.Condense(context.Background(), window(20))
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}

	var contents []string
	for _, entry := range res.Window {
		if entry.Condensed {
			contents = append(contents, "synthetic("+strconv.Itoa(entry.MessageCount)+")")
			continue
		}
		contents = append(contents, entry.Content)
	}
	want := []string{"0", "1", "2", "synthetic(10)", "13", "14", "15", "16", "17", "18", "19"}
	if diff := cmp.Diff(want, contents); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}

	wantIDs := []string{"id3", "id4", "id5", "id6", "id7", "id8", "id9", "id10", "id11", "id12"}
	if diff := cmp.Diff(wantIDs, marker.ids); diff != "" {
		t.Errorf("marked ids (-want +got):\n%s", diff)
	}
}

func TestCondense_SummarizationFailure(t *testing.T) {
	gen := &fakeGenerator{err: stderrors.New("upstream 503")}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, gen, marker, nil)

	res, err := e.Condense(context.Background(), window(15))
	if err != nil {
		t.Fatalf("Condense() error = %v, want nil", err)
	}
	if !res.SummaryFailed {
		t.Error("SummaryFailed = false, want true")
	}
	if len(res.Window) != 11 {
		t.Fatalf("len(window) = %d, want 11", len(res.Window))
	}
	if res.Window[3].Content != PlaceholderSummary {
		t.Errorf("synthetic content = %q, want placeholder", res.Window[3].Content)
	}
	if marker.summary != PlaceholderSummary || len(marker.ids) != 5 {
		t.Errorf("marker got %d ids with %q", len(marker.ids), marker.summary)
	}
}

func TestCondense_EmptySummaryUsesPlaceholder(t *testing.T) {
	gen := &fakeGenerator{reply: "   "}
	e := New(fakeBudget{over: true}, gen, &fakeMarker{}, nil)

	res, err := e.Condense(context.Background(), window(12))
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if !res.SummaryFailed || res.Window[3].Content != PlaceholderSummary {
		t.Errorf("result = %+v", res)
	}
}

func TestCondense_SkipsEntriesWithoutIDs(t *testing.T) {
	gen := &fakeGenerator{reply: "summary"}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, gen, marker, nil)

	in := window(13)
	in[4].ID = ""
	in[5] = message.Synthetic("older summary", 4)

	res, err := e.Condense(context.Background(), in)
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if diff := cmp.Diff([]string{"id3"}, marker.ids); diff != "" {
		t.Errorf("marked ids (-want +got):\n%s", diff)
	}
	if res.MarkedCount != 1 {
		t.Errorf("MarkedCount = %d, want 1", res.MarkedCount)
	}
}

func TestCondense_RemarksOlderSyntheticSources(t *testing.T) {
	gen := &fakeGenerator{reply: "newer summary"}
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, gen, marker, nil)

	in := window(12)
	in[3] = message.Synthetic("older summary", 3, "old1", "old2", "old3")

	res, err := e.Condense(context.Background(), in)
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}

	wantIDs := []string{"old1", "old2", "old3", "id4"}
	if diff := cmp.Diff(wantIDs, marker.ids); diff != "" {
		t.Errorf("marked ids (-want +got):\n%s", diff)
	}
	if marker.summary != "newer summary" {
		t.Errorf("marked summary = %q", marker.summary)
	}
	if diff := cmp.Diff(wantIDs, res.Window[3].SourceIDs); diff != "" {
		t.Errorf("synthetic source ids (-want +got):\n%s", diff)
	}
}

func TestCondense_NoIDsSkipsMarker(t *testing.T) {
	marker := &fakeMarker{}
	e := New(fakeBudget{over: true}, &fakeGenerator{reply: "summary"}, marker, nil)

	in := window(12)
	for i := range in {
		in[i].ID = ""
	}
	if _, err := e.Condense(context.Background(), in); err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if marker.calls != 0 {
		t.Errorf("marker called %d times, want 0", marker.calls)
	}
}

func TestCondense_MarkFailureReturnsError(t *testing.T) {
	marker := &fakeMarker{err: stderrors.New("disk full")}
	e := New(fakeBudget{over: true}, &fakeGenerator{reply: "summary"}, marker, nil)

	in := window(15)
	res, err := e.Condense(context.Background(), in)
	if err == nil {
		t.Fatal("Condense() error = nil, want error")
	}
	if diff := cmp.Diff(in, res.Window); diff != "" {
		t.Errorf("window on failure should be the input (-want +got):\n%s", diff)
	}
}

func TestSummaryPrompt(t *testing.T) {
	prompt := SummaryPrompt([]message.Entry{
		{Role: message.RoleUser, Content: "hello", ID: "01ABC"},
		{Role: message.RoleSystem, Content: "older", Condensed: true, MessageCount: 2},
	})

	if len(prompt) != 2 || prompt[0].Role != message.RoleSystem || prompt[1].Role != message.RoleUser {
		t.Fatalf("prompt roles = %+v", prompt)
	}
	if !strings.Contains(prompt[0].Content, "[com_id: <id>]") {
		t.Errorf("system prompt missing id format: %q", prompt[0].Content)
	}
	body := prompt[1].Content
	for _, want := range []string{
		"Role: user, ID: 01ABC\nContent: hello\n---",
		"Role: system, ID: no-com_id\nContent: older\n---",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("prompt body missing %q:\n%s", want, body)
		}
	}
}
