package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/chain"
	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/message"
	"github.com/hpungsan/tether/internal/notebook"
	"github.com/hpungsan/tether/internal/tokens"
	"github.com/hpungsan/tether/internal/transcript"
)

// Services bundles the stores the MCP tools operate on.
type Services struct {
	Store     *chain.Store
	Notebook  *notebook.Ledger
	Estimator *tokens.Estimator
	Exporter  *transcript.Exporter
	Logger    *zap.Logger
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc    Services
	cfg    *config.Config
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc Services, cfg *config.Config) *Handlers {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Handlers{
		svc:    svc,
		cfg:    cfg,
		logger: logging.OrNop(svc.Logger).Named("mcp"),
	}
}

// Request types for each tool

// SaveRequest represents the arguments for chain_save.
type SaveRequest struct {
	Sender      string  `json:"sender"`
	Recipient   string  `json:"recipient"`
	Content     string  `json:"content"`
	InitiatorID *string `json:"initiator_id,omitempty"`
}

// IDRequest represents tools addressed by a single communication ID.
type IDRequest struct {
	ID string `json:"id"`
}

// HistoryRequest represents the arguments for chain_history.
type HistoryRequest struct {
	ID     string `json:"id"`
	Window bool   `json:"window,omitempty"`
}

// RootsRequest represents the arguments for chain_roots.
type RootsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// MarkCondensedRequest represents the arguments for chain_mark_condensed.
type MarkCondensedRequest struct {
	IDs     []string `json:"ids"`
	Summary string   `json:"summary"`
}

// ExportRequest represents the arguments for chain_export.
type ExportRequest struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
	Path   string `json:"path,omitempty"`
}

// AppendRequest represents the arguments for notebook_append.
type AppendRequest struct {
	Text string `json:"text"`
	Tag  string `json:"tag,omitempty"`
}

// CompleteRequest represents the arguments for notebook_complete.
type CompleteRequest struct {
	Keyword string `json:"keyword"`
}

// TailRequest represents the arguments for notebook_tail and notebook_archive_tail.
type TailRequest struct {
	Lines int `json:"lines,omitempty"`
}

// MeasureRequest represents the arguments for tokens_measure.
type MeasureRequest struct {
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Output types

// HistoryOutput is the chain_history result. Exactly one of
// Communications and Window is populated.
type HistoryOutput struct {
	ID             string                  `json:"id"`
	Count          int                     `json:"count"`
	Communications []message.Communication `json:"communications,omitempty"`
	Window         []message.Entry         `json:"window,omitempty"`
}

// RootsOutput is the chain_roots result.
type RootsOutput struct {
	Roots []message.RootRef `json:"roots"`
	Total int               `json:"total"`
}

// MarkCondensedOutput is the chain_mark_condensed result.
type MarkCondensedOutput struct {
	Marked int `json:"marked"`
}

// AppendOutput is the notebook_append result.
type AppendOutput struct {
	Appended bool `json:"appended"`
}

// CompleteOutput is the notebook_complete result.
type CompleteOutput struct {
	Completed bool `json:"completed"`
	Line      int  `json:"line"`
}

// LinesOutput is the result of the notebook tail tools.
type LinesOutput struct {
	Lines []string `json:"lines"`
}

// SweepOutput is the notebook_sweep result.
type SweepOutput struct {
	Archived int `json:"archived"`
}

// MeasureOutput is the tokens_measure result.
type MeasureOutput struct {
	Budget  tokens.Budget       `json:"budget"`
	System  *tokens.Measurement `json:"system,omitempty"`
	History *tokens.Measurement `json:"history,omitempty"`
}

// Chain handlers

// HandleSave handles the chain_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	c, err := h.svc.Store.Save(ctx, chain.SaveInput{
		Sender:      input.Sender,
		Recipient:   input.Recipient,
		Content:     input.Content,
		InitiatorID: input.InitiatorID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(c)
}

// HandleGet handles the chain_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	c, err := h.svc.Store.Get(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	if c == nil {
		return errorResult(errors.NewNotFound(input.ID)), nil
	}

	return successResult(c)
}

// HandleHistory handles the chain_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	comms, err := h.svc.Store.Chain(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	if len(comms) == 0 {
		return errorResult(errors.NewNotFound(input.ID)), nil
	}

	out := HistoryOutput{ID: input.ID}
	if input.Window {
		out.Window = message.WindowFromChain(comms)
		out.Count = len(out.Window)
	} else {
		out.Communications = comms
		out.Count = len(comms)
	}

	return successResult(out)
}

// HandleRoots handles the chain_roots tool call.
func (h *Handlers) HandleRoots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RootsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must not be negative")), nil
	}

	roots, err := h.svc.Store.ListRoots(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	out := RootsOutput{Roots: roots, Total: len(roots)}
	if input.Limit > 0 && len(roots) > input.Limit {
		out.Roots = roots[:input.Limit]
	}

	return successResult(out)
}

// HandleRecall handles the chain_recall tool call.
func (h *Handlers) HandleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if err := requireID(input.ID); err != nil {
		return errorResult(err), nil
	}

	rec, err := h.svc.Store.Recall(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	if rec == nil {
		return errorResult(errors.NewNotFound(input.ID)), nil
	}

	return successResult(rec)
}

// HandleMarkCondensed handles the chain_mark_condensed tool call.
func (h *Handlers) HandleMarkCondensed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MarkCondensedRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if strings.TrimSpace(input.Summary) == "" {
		return errorResult(errors.NewInvalidRequest("summary is required")), nil
	}

	n, err := h.svc.Store.MarkCondensed(ctx, input.IDs, input.Summary)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(MarkCondensedOutput{Marked: n})
}

// HandleExport handles the chain_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	format, err := transcript.ParseFormat(input.Format)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := h.svc.Exporter.Export(ctx, transcript.ExportInput{
		ConversationID: input.ID,
		Format:         format,
		Path:           input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(out)
}

// Notebook handlers

// HandleAppend handles the notebook_append tool call.
func (h *Handlers) HandleAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AppendRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	tag := notebook.Tag(strings.ToUpper(strings.TrimSpace(input.Tag)))
	if err := h.svc.Notebook.Append(input.Text, tag); err != nil {
		return errorResult(err), nil
	}

	return successResult(AppendOutput{Appended: true})
}

// HandleComplete handles the notebook_complete tool call.
func (h *Handlers) HandleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CompleteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if strings.TrimSpace(input.Keyword) == "" {
		return errorResult(errors.NewInvalidRequest("keyword is required")), nil
	}

	idx, err := h.svc.Notebook.FindByKeyword(input.Keyword)
	if err != nil {
		return errorResult(err), nil
	}
	if idx == notebook.NotFound {
		return successResult(CompleteOutput{Completed: false, Line: notebook.NotFound})
	}

	ok, err := h.svc.Notebook.Complete(idx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(CompleteOutput{Completed: ok, Line: idx})
}

// HandleTail handles the notebook_tail tool call.
func (h *Handlers) HandleTail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.handleLines(req, h.svc.Notebook.Tail)
}

// HandleArchiveTail handles the notebook_archive_tail tool call.
func (h *Handlers) HandleArchiveTail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.handleLines(req, h.svc.Notebook.ArchiveTail)
}

func (h *Handlers) handleLines(req mcp.CallToolRequest, tail func(int) ([]string, error)) (*mcp.CallToolResult, error) {
	input, err := decode[TailRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Lines < 0 {
		return errorResult(errors.NewInvalidRequest("lines must not be negative")), nil
	}
	n := input.Lines
	if n == 0 {
		n = h.cfg.NotebookTailLines
	}

	lines, err := tail(n)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(LinesOutput{Lines: lines})
}

// HandleSweep handles the notebook_sweep tool call.
func (h *Handlers) HandleSweep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.svc.Notebook.ArchiveSweep()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(SweepOutput{Archived: n})
}

// Token handlers

// HandleMeasure handles the tokens_measure tool call.
func (h *Handlers) HandleMeasure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MeasureRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.Text == "" && strings.TrimSpace(input.ID) == "" {
		return errorResult(errors.NewInvalidRequest("text or id is required")), nil
	}

	out := MeasureOutput{Budget: h.svc.Estimator.Budget()}

	if input.Text != "" {
		m := h.svc.Estimator.MeasureSystem(input.Text)
		out.System = &m
	}

	if id := strings.TrimSpace(input.ID); id != "" {
		comms, err := h.svc.Store.Chain(ctx, id)
		if err != nil {
			return errorResult(err), nil
		}
		if len(comms) == 0 {
			return errorResult(errors.NewNotFound(id)), nil
		}
		m := h.svc.Estimator.MeasureHistory(message.WindowFromChain(comms))
		out.History = &m
	}

	return successResult(out)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewInvalidRequest("id is required")
	}
	return nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to avoid leaking paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if tErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    tErr.Code,
			"message": tErr.Message,
			"status":  tErr.Status,
		}
		if tErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if tErr.Details != nil {
			errorObj["details"] = tErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
