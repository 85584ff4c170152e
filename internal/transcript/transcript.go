// Package transcript exports stored conversations as markdown, HTML or JSONL.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/fileio"
	"github.com/hpungsan/tether/internal/message"
)

// Format is an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSONL    Format = "jsonl"
)

// SchemaVersion is written into JSONL export headers.
const SchemaVersion = "1.0"

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "jsonl":
		return FormatJSONL, nil
	default:
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown export format: %s", s))
	}
}

// Ext returns the file extension for f, with the dot.
func (f Format) Ext() string {
	switch f {
	case FormatHTML:
		return ".html"
	case FormatJSONL:
		return ".jsonl"
	default:
		return ".md"
	}
}

// Header is the first line of a JSONL export.
type Header struct {
	TetherExport   bool   `json:"_tether_export"`
	SchemaVersion  string `json:"schema_version"`
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
	ExportedAt     int64  `json:"exported_at"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Render writes chain to w in format.
func Render(w io.Writer, format Format, chain []message.Communication, exportedAt time.Time) error {
	switch format {
	case FormatJSONL:
		return renderJSONL(w, chain, exportedAt)
	case FormatHTML:
		return renderHTML(w, chain, exportedAt)
	default:
		_, err := io.WriteString(w, Markdown(chain, exportedAt))
		return err
	}
}

// Markdown renders chain as a markdown document, oldest turn first.
// Condensed turns keep their raw content and note the summary that
// replaced them.
func Markdown(chain []message.Communication, exportedAt time.Time) string {
	var b strings.Builder

	title := "Conversation"
	if len(chain) > 0 {
		title += " " + chain[0].ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Exported %s, %d messages_\n", exportedAt.UTC().Format(time.RFC3339), len(chain))

	for _, c := range chain {
		ts := time.Unix(c.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05")
		fmt.Fprintf(&b, "\n## %s to %s (%s)\n\n", c.Sender, c.Recipient, ts)
		b.WriteString(strings.TrimRight(c.RawContent, "\n"))
		b.WriteString("\n")
		if c.IsCondensed && c.CondensedSummary != nil {
			fmt.Fprintf(&b, "\n> Condensed: %s\n", strings.ReplaceAll(*c.CondensedSummary, "\n", "\n> "))
		}
	}

	return b.String()
}

func renderHTML(w io.Writer, chain []message.Communication, exportedAt time.Time) error {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(chain, exportedAt)), &body); err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}

	title := "Conversation"
	if len(chain) > 0 {
		title += " " + chain[0].ID
	}

	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(title), body.String())
	return err
}

func renderJSONL(w io.Writer, chain []message.Communication, exportedAt time.Time) error {
	enc := json.NewEncoder(w)

	header := Header{
		TetherExport:  true,
		SchemaVersion: SchemaVersion,
		Count:         len(chain),
		ExportedAt:    exportedAt.Unix(),
	}
	if len(chain) > 0 {
		header.ConversationID = chain[0].ID
	}
	if err := enc.Encode(header); err != nil {
		return err
	}

	for _, c := range chain {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

// ChainReader reads stored conversations.
type ChainReader interface {
	Chain(ctx context.Context, id string) ([]message.Communication, error)
}

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	ConversationID string // required; any communication of the conversation
	Format         Format // default markdown
	Path           string // optional, default: <exports dir>/<root id>-<timestamp><ext>
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     Format `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Exporter writes transcripts under an exports directory.
type Exporter struct {
	store ChainReader
	dir   string
	now   func() time.Time
}

// NewExporter creates an Exporter writing to dir by default.
func NewExporter(store ChainReader, dir string) *Exporter {
	return &Exporter{store: store, dir: dir, now: time.Now}
}

// Export writes the conversation to a file. The file is replaced
// atomically, so a failed export leaves any existing file intact.
func (e *Exporter) Export(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	if strings.TrimSpace(input.ConversationID) == "" {
		return nil, errors.NewInvalidRequest("conversation id is required")
	}
	format := input.Format
	if format == "" {
		format = FormatMarkdown
	}

	chain, err := e.store.Chain(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.NewNotFound(input.ConversationID)
	}

	now := e.now()
	path := input.Path
	if path == "" {
		path = filepath.Join(e.dir, fmt.Sprintf("%s-%s%s", chain[0].ID, now.Format("2006-01-02T150405"), format.Ext()))
	}
	if fileio.ContainsTraversal(path) {
		return nil, errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	err = fileio.WriteAtomicFunc(path, 0600, func(w io.Writer) error {
		return Render(w, format, chain, now)
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}

	return &ExportOutput{
		Path:       path,
		Format:     format,
		Count:      len(chain),
		ExportedAt: now.Unix(),
	}, nil
}
