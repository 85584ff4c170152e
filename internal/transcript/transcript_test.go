package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/message"
)

var exportedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleChain() []message.Communication {
	a, b := "A", "B"
	summary := "[com_id: B] assistant greeted"
	return []message.Communication{
		{ID: "A", Sender: "user", Recipient: "assistant", CreatedAt: 1714564800, RawContent: "Hello **there**", ExitorID: &b},
		{ID: "B", Sender: "assistant", Recipient: "user", CreatedAt: 1714564801, RawContent: "Hi!", InitiatorID: &a, IsCondensed: true, CondensedSummary: &summary},
	}
}

type fakeReader struct {
	chain []message.Communication
}

func (f fakeReader) Chain(_ context.Context, id string) ([]message.Communication, error) {
	for _, c := range f.chain {
		if c.ID == id {
			return f.chain, nil
		}
	}
	return []message.Communication{}, nil
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":         FormatMarkdown,
		"md":       FormatMarkdown,
		".html":    FormatHTML,
		"JSONL":    FormatJSONL,
		"markdown": FormatMarkdown,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := ParseFormat("pdf"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("ParseFormat(pdf) error = %v, want INVALID_REQUEST", err)
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleChain(), exportedAt)

	for _, want := range []string{
		"# Conversation A\n",
		"## user to assistant (2024-05-01 12:00:00)\n\nHello **there**\n",
		"## assistant to user (2024-05-01 12:00:01)\n\nHi!\n",
		"> Condensed: [com_id: B] assistant greeted\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestRender_HTML(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatHTML, sampleChain(), exportedAt); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"<title>Conversation A</title>",
		"<h1>Conversation A</h1>",
		"Hello <strong>there</strong>",
		"<blockquote>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q:\n%s", want, out)
		}
	}
}

func TestRender_JSONL(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatJSONL, sampleChain(), exportedAt); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !header.TetherExport || header.Count != 2 || header.ConversationID != "A" || header.ExportedAt != exportedAt.Unix() {
		t.Errorf("header = %+v", header)
	}

	var c message.Communication
	if err := json.Unmarshal([]byte(lines[2]), &c); err != nil {
		t.Fatalf("record: %v", err)
	}
	if c.ID != "B" || !c.IsCondensed || c.InitiatorID == nil || *c.InitiatorID != "A" {
		t.Errorf("record = %+v", c)
	}
}

func TestExport_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(fakeReader{chain: sampleChain()}, dir)
	e.now = func() time.Time { return exportedAt }

	out, err := e.Export(context.Background(), ExportInput{ConversationID: "B", Format: FormatJSONL})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	want := filepath.Join(dir, "A-2024-05-01T120000.jsonl")
	if out.Path != want {
		t.Errorf("Path = %q, want %q", out.Path, want)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}

func TestExport_Errors(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(fakeReader{chain: sampleChain()}, dir)
	ctx := context.Background()

	if _, err := e.Export(ctx, ExportInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Export(no id) error = %v, want INVALID_REQUEST", err)
	}
	if _, err := e.Export(ctx, ExportInput{ConversationID: "missing"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Export(missing) error = %v, want NOT_FOUND", err)
	}
	_, err := e.Export(ctx, ExportInput{ConversationID: "A", Path: dir + "/../escape.md"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Export(traversal) error = %v, want INVALID_REQUEST", err)
	}
}
