package main

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/tether/internal/agent"
	"github.com/hpungsan/tether/internal/chain"
	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/identity"
	"github.com/hpungsan/tether/internal/message"
	"github.com/hpungsan/tether/internal/notebook"
	"github.com/hpungsan/tether/internal/tokens"
	"github.com/hpungsan/tether/internal/transcript"
)

// maxInputBytes caps message text read from stdin.
const maxInputBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
// svc may be nil for --help and --version.
func newCLIApp(svc *services) *cli.App {
	app := &cli.App{
		Name:    "tether",
		Usage:   "Conversation memory: chained history, condensation, notebook",
		Version: Version,
		Commands: []*cli.Command{
			saveCmd(svc),
			getCmd(svc),
			chainCmd(svc),
			rootsCmd(svc),
			recallCmd(svc),
			condenseMarkCmd(svc),
			exportCmd(svc),
			noteCmd(svc),
			completeCmd(svc),
			sweepCmd(svc),
			notebookCmd(svc),
			archiveCmd(svc),
			tokensCmd(svc),
			profileCmd(svc),
			chatCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// Chain commands

func saveCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Append a communication (content from args or stdin)",
		ArgsUsage: "[content]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Aliases: []string{"s"}, Value: message.RoleUser, Usage: "Sender"},
			&cli.StringFlag{Name: "recipient", Aliases: []string{"r"}, Value: message.RoleAssistant, Usage: "Recipient"},
			&cli.StringFlag{Name: "initiator", Aliases: []string{"i"}, Usage: "Predecessor ID (omit to start a conversation)"},
		},
		Action: func(c *cli.Context) error {
			content, err := readInput(c)
			if err != nil {
				return outputError(err)
			}

			input := chain.SaveInput{
				Sender:    c.String("sender"),
				Recipient: c.String("recipient"),
				Content:   content,
			}
			if initiator := c.String("initiator"); initiator != "" {
				input.InitiatorID = &initiator
			}

			comm, err := svc.store.Save(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, comm)
		},
	}
}

func getCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch a communication by ID",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return outputError(err)
			}

			comm, err := svc.store.Get(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			if comm == nil {
				return outputError(errors.NewNotFound(id))
			}
			return outputJSON(c, comm)
		},
	}
}

func chainCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "chain",
		Usage:     "Print the conversation containing a communication, oldest first",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "window", Aliases: []string{"w"}, Usage: "Print the condensed model-facing window"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return outputError(err)
			}

			comms, err := svc.store.Chain(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			if len(comms) == 0 {
				return outputError(errors.NewNotFound(id))
			}

			if c.Bool("window") {
				return outputJSON(c, message.WindowFromChain(comms))
			}
			return outputJSON(c, comms)
		},
	}
}

func rootsCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "roots",
		Usage: "List conversation roots, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 0, Usage: "Maximum roots to print (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			if limit < 0 {
				return outputError(errors.NewInvalidRequest("limit must not be negative"))
			}

			roots, err := svc.store.ListRoots(c.Context)
			if err != nil {
				return outputError(err)
			}
			if limit > 0 && len(roots) > limit {
				roots = roots[:limit]
			}
			return outputJSON(c, roots)
		},
	}
}

func recallCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "recall",
		Usage:     "Print the original content of a communication and its condensation state",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return outputError(err)
			}

			rec, err := svc.store.Recall(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			if rec == nil {
				return outputError(errors.NewNotFound(id))
			}
			return outputJSON(c, rec)
		},
	}
}

func condenseMarkCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "condense-mark",
		Usage:     "Flag communications as condensed with a shared summary",
		ArgsUsage: "<id>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "summary", Required: true, Usage: "Summary shown in place of the messages"},
		},
		Action: func(c *cli.Context) error {
			summary := strings.TrimSpace(c.String("summary"))
			if summary == "" {
				return outputError(errors.NewInvalidRequest("summary is required"))
			}
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("at least one id is required"))
			}

			n, err := svc.store.MarkCondensed(c.Context, c.Args().Slice(), summary)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]int{"marked": n})
		},
	}
}

func exportCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a conversation transcript",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: string(transcript.FormatMarkdown), Usage: "markdown|html|jsonl"},
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output path (default: ~/.tether/exports/<root>-<timestamp>.<ext>)"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "id")
			if err != nil {
				return outputError(err)
			}
			format, err := transcript.ParseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			out, err := svc.exporter.Export(c.Context, transcript.ExportInput{
				ConversationID: id,
				Format:         format,
				Path:           c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// Notebook commands

func noteCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "note",
		Usage:     "Append a note to the notebook (text from args or stdin)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Value: string(notebook.TagPending), Usage: "PENDING|COMPLETED"},
		},
		Action: func(c *cli.Context) error {
			text, err := readInput(c)
			if err != nil {
				return outputError(err)
			}

			tag := notebook.Tag(strings.ToUpper(strings.TrimSpace(c.String("tag"))))
			if err := svc.notebook.Append(text, tag); err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]bool{"appended": true})
		},
	}
}

func completeCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Complete the first PENDING note matching a keyword",
		ArgsUsage: "<keyword>",
		Action: func(c *cli.Context) error {
			keyword := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if keyword == "" {
				return outputError(errors.NewInvalidRequest("keyword is required"))
			}

			idx, err := svc.notebook.FindByKeyword(keyword)
			if err != nil {
				return outputError(err)
			}
			completed := false
			if idx != notebook.NotFound {
				if completed, err = svc.notebook.Complete(idx); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(c, map[string]any{"completed": completed, "line": idx})
		},
	}
}

func sweepCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Move COMPLETED notes into the archive",
		Action: func(c *cli.Context) error {
			n, err := svc.notebook.ArchiveSweep()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]int{"archived": n})
		},
	}
}

func notebookCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "notebook",
		Usage: "Print the most recent notebook lines",
		Flags: []cli.Flag{linesFlag(svc)},
		Action: func(c *cli.Context) error {
			return printLines(c, svc.notebook.Tail)
		},
	}
}

func archiveCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Print the most recent archived notebook lines",
		Flags: []cli.Flag{linesFlag(svc)},
		Action: func(c *cli.Context) error {
			return printLines(c, svc.notebook.ArchiveTail)
		},
	}
}

func linesFlag(svc *services) cli.Flag {
	n := 15
	if svc != nil && svc.cfg != nil {
		n = svc.cfg.NotebookTailLines
	}
	return &cli.IntFlag{Name: "lines", Aliases: []string{"n"}, Value: n, Usage: "Number of lines"}
}

func printLines(c *cli.Context, tail func(int) ([]string, error)) error {
	n := c.Int("lines")
	if n < 0 {
		return outputError(errors.NewInvalidRequest("lines must not be negative"))
	}
	lines, err := tail(n)
	if err != nil {
		return outputError(err)
	}
	for _, line := range lines {
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}

// Token and identity commands

func tokensCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "tokens",
		Usage:     "Measure text (args or stdin) or a conversation window against the budget",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Conversation to measure against the history ceiling"},
		},
		Action: func(c *cli.Context) error {
			type result struct {
				Budget  tokens.Budget       `json:"budget"`
				System  *tokens.Measurement `json:"system,omitempty"`
				History *tokens.Measurement `json:"history,omitempty"`
			}
			out := result{Budget: svc.estimator.Budget()}

			if id := c.String("id"); id != "" {
				comms, err := svc.store.Chain(c.Context, id)
				if err != nil {
					return outputError(err)
				}
				if len(comms) == 0 {
					return outputError(errors.NewNotFound(id))
				}
				m := svc.estimator.MeasureHistory(message.WindowFromChain(comms))
				out.History = &m
				return outputJSON(c, out)
			}

			text, err := readInput(c)
			if err != nil {
				return outputError(err)
			}
			if text == "" {
				return outputError(errors.NewInvalidRequest("text or --id is required"))
			}
			m := svc.estimator.MeasureSystem(text)
			out.System = &m
			return outputJSON(c, out)
		},
	}
}

func profileCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Print the user profile, or merge sections piped on stdin with --merge",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "merge", Usage: "Merge markdown sections from stdin into USER.md"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("merge") {
				profile := svc.identity.Profile()
				if strings.TrimSpace(profile) == "" {
					profile = identity.NoProfile
				}
				fmt.Fprintln(c.App.Writer, profile)
				return nil
			}

			text, err := readInput(c)
			if err != nil {
				return outputError(err)
			}
			if text == "" {
				return outputError(errors.NewInvalidRequest("profile text must be piped via stdin"))
			}
			changed, err := svc.identity.UpdateProfile(text)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]bool{"changed": changed})
		},
	}
}

// Chat

func chatCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Run a conversation turn (interactive when no message is given on a terminal)",
		ArgsUsage: "[message]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Usage: "Continue the conversation containing this ID"},
			&cli.BoolFlag{Name: "stream", Usage: "Print the reply as it is generated"},
		},
		Action: func(c *cli.Context) error {
			if svc.agent == nil {
				return outputError(errors.NewInvalidRequest(apiKeyEnv + " must be set to chat"))
			}

			conversationID := c.String("conversation")
			if c.NArg() == 0 && isTerminalReader(c.App.Reader) {
				return chatLoop(c, svc.agent, conversationID)
			}

			text, err := readInput(c)
			if err != nil {
				return outputError(err)
			}

			input := agent.TurnInput{ConversationID: conversationID, Text: text}
			if !c.Bool("stream") {
				out, err := svc.agent.Reply(c.Context, input)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c, out)
			}

			out, err := streamTurn(c, svc.agent, input)
			if err != nil {
				return outputError(err)
			}
			fmt.Fprintf(c.App.ErrWriter, "conversation: %s\n", out.ConversationID)
			return nil
		},
	}
}

// chatLoop reads one message per line until EOF, streaming each reply.
// Ctrl-C interrupts the current reply; the partial text is kept.
func chatLoop(c *cli.Context, a *agent.Agent, conversationID string) error {
	scanner := bufio.NewScanner(c.App.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputBytes)

	for {
		fmt.Fprint(c.App.ErrWriter, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		out, err := streamTurn(c, a, agent.TurnInput{ConversationID: conversationID, Text: text})
		if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "error: %v\n", err)
			continue
		}
		conversationID = out.ConversationID
	}

	if conversationID != "" {
		fmt.Fprintf(c.App.ErrWriter, "\nconversation: %s\n", conversationID)
	}
	return scanner.Err()
}

func streamTurn(c *cli.Context, a *agent.Agent, input agent.TurnInput) (*agent.TurnOutput, error) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	input.Stream = true
	input.OnFragment = func(fragment string) {
		fmt.Fprint(c.App.Writer, fragment)
	}

	out, err := a.Reply(ctx, input)
	fmt.Fprintln(c.App.Writer)
	if err != nil {
		return nil, err
	}
	if out.Interrupted {
		fmt.Fprintln(c.App.ErrWriter, "[interrupted]")
	}
	return out, nil
}

// Helper functions

// outputJSON writes v to the app's stdout as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for CLI output.
func outputError(err error) error {
	if tErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", tErr.Code, tErr.Message), 1)
	}
	if stderrors.Is(err, context.Canceled) {
		return cli.Exit("interrupted", 130)
	}
	return cli.Exit(err.Error(), 1)
}

func requireArg(c *cli.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Args().First())
	if v == "" {
		return "", errors.NewInvalidRequest(name + " is required")
	}
	return v, nil
}

// readInput returns the positional args joined by spaces, or piped stdin
// when there are none.
func readInput(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return strings.TrimSpace(strings.Join(c.Args().Slice(), " ")), nil
	}
	if isTerminalReader(c.App.Reader) {
		return "", nil
	}
	return readStdin(c.App.Reader, maxInputBytes)
}

// isTerminalReader reports whether r is an interactive terminal.
// Readers other than files (tests, pipes wrapped by callers) count as piped.
func isTerminalReader(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// readStdin reads all of r, failing when it exceeds limit bytes.
func readStdin(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}
