package mcp

import (
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/config"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"chain", "notebook", "tokens"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"chain_save": {
		def:     chainSaveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"chain_get": {
		def:     chainGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"chain_history": {
		def:     chainHistoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"chain_roots": {
		def:     chainRootsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRoots },
	},
	"chain_recall": {
		def:     chainRecallToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecall },
	},
	"chain_mark_condensed": {
		def:     chainMarkCondensedToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMarkCondensed },
	},
	"chain_export": {
		def:     chainExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"notebook_append": {
		def:     notebookAppendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAppend },
	},
	"notebook_complete": {
		def:     notebookCompleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleComplete },
	},
	"notebook_tail": {
		def:     notebookTailToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTail },
	},
	"notebook_archive_tail": {
		def:     notebookArchiveTailToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArchiveTail },
	},
	"notebook_sweep": {
		def:     notebookSweepToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSweep },
	},
	"tokens_measure": {
		def:     tokensMeasureToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMeasure },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "chain_save" → "chain").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// NewServer creates a new MCP server with Tether tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration; unknown names are logged and ignored.
func NewServer(svc Services, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tether",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc, cfg)
	cfg = h.cfg

	if unknown := ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		h.logger.Warn("unknown disabled tools", zap.Strings("tools", unknown))
	}
	if unknown := ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		h.logger.Warn("unknown disabled types", zap.Strings("types", unknown))
	}

	// Expand types first, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	registered := 0
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
		registered++
	}
	h.logger.Debug("mcp tools registered", zap.Int("count", registered))

	return s
}

// Run starts the MCP server using stdio transport.
func Run(svc Services, cfg *config.Config, version string) error {
	s := NewServer(svc, cfg, version)
	return server.ServeStdio(s)
}
