package notebook

import (
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
)

// Kind identifies an annotation.
type Kind string

const (
	KindNote     Kind = "NOTE"
	KindComplete Kind = "COMPLETE"
)

// Token is one well-formed annotation span text[Start:End].
type Token struct {
	Kind    Kind
	Payload string
	Start   int
	End     int
}

// Malformed is an annotation opener that could not be parsed. Its text is
// left in place.
type Malformed struct {
	Span   string
	Start  int
	Reason string
}

// Scan finds "[NOTE: ...]" and "[COMPLETE: ...]" spans in one left-to-right
// pass. Keywords are case-insensitive and a payload ends at the first "]".
func Scan(text string) ([]Token, []Malformed) {
	var (
		tokens    []Token
		malformed []Malformed
	)

	i := 0
	for i < len(text) {
		open := strings.IndexByte(text[i:], '[')
		if open < 0 {
			break
		}
		start := i + open

		kind, bodyStart, ok := matchKeyword(text, start)
		if !ok {
			i = start + 1
			continue
		}

		closeAt := strings.IndexByte(text[bodyStart:], ']')
		if closeAt < 0 {
			malformed = append(malformed, Malformed{
				Span:   text[start:],
				Start:  start,
				Reason: "missing closing bracket",
			})
			i = bodyStart
			continue
		}
		end := bodyStart + closeAt + 1

		payload := strings.TrimSpace(text[bodyStart : end-1])
		if payload == "" {
			malformed = append(malformed, Malformed{
				Span:   text[start:end],
				Start:  start,
				Reason: "empty payload",
			})
			i = end
			continue
		}

		tokens = append(tokens, Token{Kind: kind, Payload: payload, Start: start, End: end})
		i = end
	}

	return tokens, malformed
}

// matchKeyword checks for "[KIND:" at start, allowing spaces around the
// keyword. It returns the offset just past the colon.
func matchKeyword(text string, start int) (Kind, int, bool) {
	j := start + 1
	for j < len(text) && text[j] == ' ' {
		j++
	}
	for _, kind := range []Kind{KindComplete, KindNote} {
		k := string(kind)
		if len(text)-j < len(k) || !strings.EqualFold(text[j:j+len(k)], k) {
			continue
		}
		m := j + len(k)
		for m < len(text) && text[m] == ' ' {
			m++
		}
		if m < len(text) && text[m] == ':' {
			return kind, m + 1, true
		}
	}
	return "", 0, false
}

// Strip removes tokens from text and trims the result.
func Strip(text string, tokens []Token) string {
	if len(tokens) == 0 {
		return strings.TrimSpace(text)
	}
	var b strings.Builder
	last := 0
	for _, tok := range tokens {
		b.WriteString(text[last:tok.Start])
		last = tok.End
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String())
}

// ApplyResult summarizes what Apply did to the ledger.
type ApplyResult struct {
	Text      string   `json:"text"`
	Appended  int      `json:"appended"`
	Completed int      `json:"completed"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// Apply drives the ledger from the annotations in text, in the order they
// appear, and returns text with the well-formed spans removed. Malformed
// spans and ledger failures are logged and never abort the reply.
func (l *Ledger) Apply(text string) ApplyResult {
	tokens, malformed := Scan(text)

	for _, m := range malformed {
		err := errors.NewMalformedAnnotation(m.Span, m.Start, m.Reason)
		l.logger.Warn("ignoring malformed annotation", zap.Error(err))
	}

	res := ApplyResult{Text: Strip(text, tokens)}
	for _, tok := range tokens {
		switch tok.Kind {
		case KindNote:
			if err := l.Append(tok.Payload, TagPending); err != nil {
				l.logger.Error("failed to append note", zap.Error(err))
				continue
			}
			res.Appended++

		case KindComplete:
			index, err := l.FindByKeyword(tok.Payload)
			if err != nil {
				l.logger.Error("failed to search notebook", zap.Error(err))
				continue
			}
			if index == NotFound {
				l.logger.Info("no pending note matches", zap.String("keyword", tok.Payload))
				res.Unmatched = append(res.Unmatched, tok.Payload)
				continue
			}
			done, err := l.Complete(index)
			if err != nil {
				l.logger.Error("failed to complete note", zap.Error(err))
			}
			if done {
				res.Completed++
			}
		}
	}

	return res
}
