package message

// RoleFor maps a communication sender to a window role.
func RoleFor(sender string) string {
	switch sender {
	case RoleUser:
		return RoleUser
	case RoleSystem:
		return RoleSystem
	default:
		return RoleAssistant
	}
}

// WindowFromChain projects an ordered chain into a conversation window.
// Condensed communications are excluded; each contiguous run of them that
// shares one summary is replaced by a single synthetic system entry.
// Raw content stays recoverable through the store.
func WindowFromChain(chain []Communication) []Entry {
	window := make([]Entry, 0, len(chain))

	for i := 0; i < len(chain); i++ {
		c := chain[i]
		if !c.IsCondensed {
			window = append(window, Entry{
				Role:    RoleFor(c.Sender),
				Content: c.RawContent,
				ID:      c.ID,
			})
			continue
		}

		summary := summaryOf(c)
		ids := []string{c.ID}
		for i+1 < len(chain) && chain[i+1].IsCondensed && summaryOf(chain[i+1]) == summary {
			i++
			ids = append(ids, chain[i].ID)
		}
		window = append(window, Synthetic(summary, len(ids), ids...))
	}

	return window
}

// Synthetic builds the system entry that replaces count condensed originals.
func Synthetic(summary string, count int, sourceIDs ...string) Entry {
	return Entry{
		Role:         RoleSystem,
		Content:      summary,
		Condensed:    true,
		MessageCount: count,
		SourceIDs:    sourceIDs,
	}
}

// IDs returns the persistent ids carried by entries, in order, including
// the originals behind synthetic entries.
func IDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
		ids = append(ids, e.SourceIDs...)
	}
	return ids
}

func summaryOf(c Communication) string {
	if c.CondensedSummary == nil {
		return ""
	}
	return *c.CondensedSummary
}
