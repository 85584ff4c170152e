package message

// Roles used in conversation windows.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Communication is one stored conversational turn, linked into its
// conversation by backward (initiator) and forward (exitor) pointers.
type Communication struct {
	// ID is a ULID that uniquely identifies this communication
	ID string `json:"id"`

	// Sender is who produced the turn (e.g., "user", "assistant")
	Sender string `json:"sender"`

	// Recipient is who the turn was addressed to
	Recipient string `json:"recipient"`

	// CreatedAt is the Unix timestamp when the communication was saved
	CreatedAt int64 `json:"created_at"`

	// RawContent is the full message text; never modified after creation
	RawContent string `json:"raw_content"`

	// InitiatorID points at the predecessor; nil iff this is a conversation root
	InitiatorID *string `json:"initiator_id,omitempty"`

	// ExitorID points at the successor; nil until one is saved
	ExitorID *string `json:"exitor_id,omitempty"`

	// IsCondensed is true once the turn has been folded into a summary
	IsCondensed bool `json:"is_condensed"`

	// CondensedSummary is the summary text that replaced this turn (nullable)
	CondensedSummary *string `json:"condensed_summary,omitempty"`
}

// IsRoot reports whether c starts a conversation.
func (c *Communication) IsRoot() bool {
	return c.InitiatorID == nil
}

// Recollection is the recoverable view of a possibly condensed communication.
type Recollection struct {
	ID               string  `json:"id"`
	RawContent       string  `json:"raw_content"`
	IsCondensed      bool    `json:"is_condensed"`
	CondensedSummary *string `json:"condensed_summary,omitempty"`
}

// RootRef is one entry of the root registry.
type RootRef struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// Entry is one element of a conversation window handed to a model.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ID is the persistent communication id; empty for turns that are not
	// stored yet and for synthetic entries.
	ID string `json:"id,omitempty"`

	// Condensed marks a synthetic entry standing in for MessageCount originals.
	Condensed    bool `json:"condensed,omitempty"`
	MessageCount int  `json:"message_count,omitempty"`

	// SourceIDs are the stored communications a synthetic entry replaces.
	// Re-condensing the entry re-marks them with the new summary.
	SourceIDs []string `json:"source_ids,omitempty"`
}
