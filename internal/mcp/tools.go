package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = mcp.Items(map[string]any{"type": "string"})

var chainSaveToolDef = mcp.NewTool("chain_save",
	mcp.WithDescription("Append a communication to a conversation. Omit initiator_id to start a new conversation; "+
		"otherwise it must be the current tail of an existing conversation."),
	mcp.WithString("sender", mcp.Required(), mcp.Description("Who sent the message, e.g. user or assistant")),
	mcp.WithString("recipient", mcp.Required(), mcp.Description("Who the message is addressed to")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Message text, stored verbatim")),
	mcp.WithString("initiator_id", mcp.Description("ID of the predecessor communication")),
)

var chainGetToolDef = mcp.NewTool("chain_get",
	mcp.WithDescription("Fetch a single communication by ID."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Communication ID")),
)

var chainHistoryToolDef = mcp.NewTool("chain_history",
	mcp.WithDescription("Return the whole conversation containing the given communication, oldest first."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Any communication ID in the conversation")),
	mcp.WithBoolean("window", mcp.Description("Return the condensed model-facing projection instead of raw records")),
)

var chainRootsToolDef = mcp.NewTool("chain_roots",
	mcp.WithDescription("List conversation roots, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum number of roots to return (0 = all)")),
)

var chainRecallToolDef = mcp.NewTool("chain_recall",
	mcp.WithDescription("Return the original content of a communication plus its condensation state."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Communication ID")),
)

var chainMarkCondensedToolDef = mcp.NewTool("chain_mark_condensed",
	mcp.WithDescription("Flag communications as condensed with a shared summary. Raw content is kept."),
	mcp.WithArray("ids", mcp.Required(), mcp.Description("Communication IDs to mark"), stringItems),
	mcp.WithString("summary", mcp.Required(), mcp.Description("Summary that replaces the messages in model windows")),
)

var chainExportToolDef = mcp.NewTool("chain_export",
	mcp.WithDescription("Write a conversation transcript to disk."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Any communication ID in the conversation")),
	mcp.WithString("format", mcp.Description("markdown (default), html or jsonl")),
	mcp.WithString("path", mcp.Description("Output path (default: exports directory)")),
)

var notebookAppendToolDef = mcp.NewTool("notebook_append",
	mcp.WithDescription("Append a timestamped line to the notebook."),
	mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
	mcp.WithString("tag", mcp.Description("PENDING (default) or COMPLETED")),
)

var notebookCompleteToolDef = mcp.NewTool("notebook_complete",
	mcp.WithDescription("Mark the first PENDING note containing keyword as COMPLETED and archive completed notes."),
	mcp.WithString("keyword", mcp.Required(), mcp.Description("Case-insensitive substring to match")),
)

var notebookTailToolDef = mcp.NewTool("notebook_tail",
	mcp.WithDescription("Return the most recent notebook lines."),
	mcp.WithNumber("lines", mcp.Description("Number of lines (default from config)")),
)

var notebookArchiveTailToolDef = mcp.NewTool("notebook_archive_tail",
	mcp.WithDescription("Return the most recent archived notebook lines."),
	mcp.WithNumber("lines", mcp.Description("Number of lines (default from config)")),
)

var notebookSweepToolDef = mcp.NewTool("notebook_sweep",
	mcp.WithDescription("Move every COMPLETED line into the archive."),
)

var tokensMeasureToolDef = mcp.NewTool("tokens_measure",
	mcp.WithDescription("Count tokens for text, or for a conversation's window, against the configured budget."),
	mcp.WithString("text", mcp.Description("Text measured against the system prompt ceiling")),
	mcp.WithString("id", mcp.Description("Conversation whose window is measured against the history ceiling")),
)
