package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/chatsync/internal/chat"
	"github.com/capitalize-ai/chatsync/internal/model"
)

const helpText = `commands:
  :open kind/id|assistant   switch conversation
  :list                     show the conversation directory
  :dm <query>               find a participant and open a direct chat
  :attach <path> [text]     send a file, with optional text
  :suggest /partial         look up assistant commands
  :pick <n>                 use suggestion n
  :who                      show who is typing here
  :help                     show this help
  :quit                     leave
anything else is sent to the open conversation; start with :: to send a leading colon`

// command is one parsed input line. An empty name means plain text.
type command struct {
	name string
	args []string
	text string
}

func parseLine(line string) (command, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{}, false
	}
	if strings.HasPrefix(trimmed, "::") {
		return command{text: strings.TrimPrefix(line, ":")}, true
	}
	if !strings.HasPrefix(trimmed, ":") {
		return command{text: line}, true
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(trimmed, ":"), " ")
	rest = strings.TrimSpace(rest)
	cmd := command{name: strings.ToLower(name), text: rest}
	if rest != "" {
		cmd.args = strings.Fields(rest)
	}
	return cmd, true
}

type participantSearcher interface {
	SearchParticipants(ctx context.Context, query string) ([]model.Participant, error)
}

type settler interface {
	Settle(ctx context.Context) error
}

type repl struct {
	session *chat.Session
	people  participantSearcher
	out     io.Writer

	// settler is waited on before quitting so in-flight sends finish.
	settler      settler
	drainTimeout time.Duration
}

func newREPL(session *chat.Session, people participantSearcher, out io.Writer) *repl {
	return &repl{
		session:      session,
		people:       people,
		out:          out,
		settler:      session,
		drainTimeout: shutdownTimeout,
	}
}

// loop reads commands once ready is closed. Leaving through :quit or end
// of input waits for in-flight requests first.
func (r *repl) loop(ctx context.Context, ready <-chan struct{}, lines <-chan string) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := r.read(ctx, lines)
	if errors.Is(err, errQuit) {
		r.drain()
	}
	return err
}

func (r *repl) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()
	if err := r.settler.Settle(ctx); err != nil && !errors.Is(err, chat.ErrSessionClosed) {
		fmt.Fprintf(r.out, "! gave up waiting for pending messages: %v\n", err)
	}
}

func (r *repl) read(ctx context.Context, lines <-chan string) error {
	fmt.Fprintln(r.out, "type :help for commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			cmd, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := r.handle(ctx, cmd); err != nil {
				if errors.Is(err, errQuit) || errors.Is(err, chat.ErrSessionClosed) {
					return err
				}
				fmt.Fprintf(r.out, "! %v\n", err)
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "":
		return r.send(ctx, chat.Draft{Text: cmd.text})
	case "quit", "q":
		return errQuit
	case "help", "h":
		fmt.Fprintln(r.out, helpText)
		return nil
	case "open", "o":
		if len(cmd.args) != 1 {
			return errors.New("usage: :open kind/id|assistant")
		}
		key, err := model.ParseConversationKey(cmd.args[0])
		if err != nil {
			return err
		}
		return r.session.Activate(ctx, key)
	case "list", "ls":
		r.list()
		return nil
	case "dm":
		return r.direct(ctx, cmd.text)
	case "attach":
		return r.attach(ctx, cmd)
	case "suggest":
		if !chat.IsCommand(cmd.text) {
			return errors.New("usage: :suggest /partial")
		}
		return r.session.ComposeChanged(ctx, cmd.text)
	case "pick":
		return r.pick(ctx, cmd)
	case "who":
		active := r.session.Active()
		names := r.session.Typing(active)
		if len(names) == 0 {
			fmt.Fprintln(r.out, "* nobody is typing")
			return nil
		}
		fmt.Fprintf(r.out, "* typing: %s\n", strings.Join(names, ", "))
		return nil
	}
	return fmt.Errorf("unknown command :%s, try :help", cmd.name)
}

func (r *repl) send(ctx context.Context, draft chat.Draft) error {
	if r.session.Active().Kind != model.KindAssistant {
		if err := r.session.ComposeChanged(ctx, draft.Text); err != nil {
			return err
		}
	}
	_, err := r.session.Send(ctx, draft)
	return err
}

func (r *repl) list() {
	active := r.session.Active()
	for _, c := range r.session.Directory() {
		marker := " "
		if c.Key() == active {
			marker = ">"
		}
		line := fmt.Sprintf("%s %-28s %s", marker, c.Key(), c.DisplayName)
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Fprintln(r.out, line)
	}
}

func (r *repl) direct(ctx context.Context, query string) error {
	if query == "" {
		return errors.New("usage: :dm <query>")
	}
	found, err := r.people.SearchParticipants(ctx, query)
	if err != nil {
		return err
	}
	self := r.session.Self().UserID
	var matches []model.Participant
	for _, p := range found {
		if p.ID != self {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return fmt.Errorf("nobody matches %q", query)
	case 1:
		key, err := r.session.StartDirect(ctx, matches[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "* opened %s with %s\n", key, matches[0].Name)
		return nil
	}
	fmt.Fprintf(r.out, "* %d people match %q, be more specific:\n", len(matches), query)
	for _, p := range matches {
		fmt.Fprintf(r.out, "    %s <%s>\n", p.Name, p.Email)
	}
	return nil
}

func (r *repl) attach(ctx context.Context, cmd command) error {
	if len(cmd.args) == 0 {
		return errors.New("usage: :attach <path> [text]")
	}
	path := cmd.args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	text := strings.TrimSpace(strings.TrimPrefix(cmd.text, path))
	_, err = r.session.Send(ctx, chat.Draft{
		Text: text,
		File: &model.File{Name: filepath.Base(path), Body: bytes.NewReader(data)},
	})
	return err
}

func (r *repl) pick(ctx context.Context, cmd command) error {
	suggestions, open := r.session.Suggestions()
	if !open || len(suggestions) == 0 {
		return errors.New("no suggestions open, use :suggest first")
	}
	if len(cmd.args) != 1 {
		return errors.New("usage: :pick <n>")
	}
	n, err := strconv.Atoi(cmd.args[0])
	if err != nil || n < 1 || n > len(suggestions) {
		return fmt.Errorf("pick a number between 1 and %d", len(suggestions))
	}
	if err := r.session.ApplySuggestion(ctx, suggestions[n-1]); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "* composer: %s\n", r.session.Composer())
	return nil
}
