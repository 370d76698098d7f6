package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/capitalize-ai/chatsync/internal/attachment"
	"github.com/capitalize-ai/chatsync/internal/chat"
	"github.com/capitalize-ai/chatsync/internal/model"
)

// printer renders session changes to the terminal. It only reads session
// state from its own goroutine, never from OnChange.
type printer struct {
	session *chat.Session
	out     io.Writer

	active  model.ConversationKey
	printed map[model.MessageID]bool
	typing  string
	failed  bool
	pending bool
	unread  map[model.ConversationKey]int
}

func newPrinter(session *chat.Session, out io.Writer) *printer {
	return &printer{
		session: session,
		out:     out,
		printed: make(map[model.MessageID]bool),
		unread:  make(map[model.ConversationKey]int),
	}
}

func (p *printer) loop(ctx context.Context, changes <-chan chat.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-changes:
			p.handle(c)
		}
	}
}

func (p *printer) handle(c chat.Change) {
	switch c.Kind {
	case chat.ChangeActive:
		p.switchTo(c.Key)
	case chat.ChangeMessages:
		if c.Key == p.active {
			p.messages()
		}
	case chat.ChangeTyping:
		if c.Key == p.active {
			p.typingLine()
		}
	case chat.ChangeSuggestions:
		p.suggestions()
	case chat.ChangePending:
		pending := p.session.Pending()
		if pending && !p.pending {
			fmt.Fprintln(p.out, "* assistant is thinking...")
		}
		p.pending = pending
	case chat.ChangeDirectory:
		p.directory()
	}
}

func (p *printer) switchTo(key model.ConversationKey) {
	if key == p.active {
		return
	}
	p.active = key
	p.printed = make(map[model.MessageID]bool)
	p.typing = ""
	p.failed = false

	name := key.String()
	if c, ok := p.session.Conversation(key); ok && c.DisplayName != "" {
		name = c.DisplayName
	}
	fmt.Fprintf(p.out, "== %s ==\n", name)
}

func (p *printer) messages() {
	if err := p.session.HistoryError(p.active); err != nil {
		if !p.failed {
			fmt.Fprintf(p.out, "! could not load history: %v\n", err)
		}
		p.failed = true
	} else {
		p.failed = false
	}

	self := p.session.Self().UserID
	for _, m := range p.session.Messages(p.active) {
		if m.ID.IsProvisional() || p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		fmt.Fprintln(p.out, formatMessage(m, self))
	}
}

func (p *printer) typingLine() {
	line := typingText(p.session.Typing(p.active))
	if line == p.typing {
		return
	}
	p.typing = line
	if line != "" {
		fmt.Fprintf(p.out, "* %s\n", line)
	}
}

func (p *printer) suggestions() {
	list, open := p.session.Suggestions()
	if !open {
		return
	}
	if len(list) == 0 {
		fmt.Fprintln(p.out, "* no matching commands")
		return
	}
	for i, s := range list {
		line := fmt.Sprintf("  %d. %s  %s", i+1, s.Command, s.Description)
		if s.Usage != "" {
			line += "  (" + s.Usage + ")"
		}
		fmt.Fprintln(p.out, line)
	}
}

func (p *printer) directory() {
	for _, c := range p.session.Directory() {
		key := c.Key()
		prev, seen := p.unread[key]
		p.unread[key] = c.UnreadCount
		if !seen || key == p.active || c.UnreadCount <= prev {
			continue
		}
		fmt.Fprintf(p.out, "* %d unread in %s (%s)\n", c.UnreadCount, c.DisplayName, key)
	}
}

func typingText(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	}
	return strings.Join(names, ", ") + " are typing..."
}

// formatMessage renders one message line. Own messages carry their
// delivery state; attachments are shown as [file: name url].
func formatMessage(m model.Message, self string) string {
	var b strings.Builder
	b.WriteString(m.SentAt.Local().Format("15:04"))
	b.WriteString(" ")

	switch {
	case m.System:
		b.WriteString("! ")
	case m.SenderID == self:
		b.WriteString("you: ")
	default:
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		b.WriteString(name + ": ")
	}

	for _, seg := range attachment.Decode(m.Content) {
		if !seg.IsAttachment() {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString("[file: " + seg.Attachment.Filename)
		if seg.Attachment.URL != "" {
			b.WriteString(" " + seg.Attachment.URL)
		}
		b.WriteString("]")
	}

	if m.Edited {
		b.WriteString(" (edited)")
	}
	if !m.System && m.SenderID == self {
		b.WriteString(" [" + model.DeliveryOf(&m).String() + "]")
	}
	if len(m.Reactions) > 0 {
		emoji := make([]string, 0, len(m.Reactions))
		for _, r := range m.Reactions {
			emoji = append(emoji, r.Emoji)
		}
		b.WriteString(" " + strings.Join(emoji, ""))
	}
	return b.String()
}
