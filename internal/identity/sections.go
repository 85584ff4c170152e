package identity

import "strings"

// Section is one "## Title" block of a profile document. Text before the
// first heading is kept as a section with an empty title.
type Section struct {
	Title string
	Body  string
}

// ParseSections splits content on "## " headings, preserving order.
// Bodies are trimmed.
func ParseSections(content string) []Section {
	var (
		sections []Section
		title    string
		body     []string
		started  bool
	)

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if started || text != "" {
			sections = append(sections, Section{Title: title, Body: text})
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			body = nil
			started = true
			continue
		}
		body = append(body, line)
	}
	flush()

	return sections
}

// MergeSection combines an existing and an incoming body for one section.
func MergeSection(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	switch {
	case incoming == "":
		return existing
	case existing == "":
		return incoming
	case existing == incoming, strings.Contains(existing, incoming):
		return existing
	default:
		return existing + "\nAdditionally, " + incoming
	}
}

// MergeSections merges incoming into existing by title. New titles are
// appended in the order they arrive.
func MergeSections(existing, incoming []Section) []Section {
	out := append([]Section(nil), existing...)
	index := make(map[string]int, len(out))
	for i, sec := range out {
		index[sec.Title] = i
	}

	for _, sec := range incoming {
		if i, ok := index[sec.Title]; ok {
			out[i].Body = MergeSection(out[i].Body, sec.Body)
			continue
		}
		if sec.Body == "" {
			continue
		}
		if sec.Title == "" {
			// Untitled text only renders correctly ahead of the first heading
			out = append([]Section{sec}, out...)
			for title := range index {
				index[title]++
			}
			index[""] = 0
			continue
		}
		index[sec.Title] = len(out)
		out = append(out, sec)
	}
	return out
}

// RenderSections is the inverse of ParseSections.
func RenderSections(sections []Section) string {
	var b strings.Builder
	for _, sec := range sections {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if sec.Title != "" {
			b.WriteString("## " + sec.Title + "\n")
		}
		if sec.Body != "" {
			b.WriteString(sec.Body + "\n")
		}
	}
	return b.String()
}
