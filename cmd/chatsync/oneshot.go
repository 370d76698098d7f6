package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// oneShot wires a subcommand that makes a single service call and prints
// the result, as JSON when --json is set.
func oneShot(opts *rootOptions, cmd *cobra.Command, call func(ctx context.Context, a *app, args []string, out io.Writer, asJSON bool) error) *cobra.Command {
	var asJSON bool
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := newApp(opts)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
		return call(ctx, a, args, cmd.OutOrStdout(), asJSON)
	}
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConversationsCmd(opts *rootOptions) *cobra.Command {
	return oneShot(opts, &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, a *app, _ []string, out io.Writer, asJSON bool) error {
		convs, err := a.client.ListConversations(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, model.ListConversationsResponse{Chats: convs, Count: len(convs)})
		}
		for _, c := range convs {
			line := fmt.Sprintf("%-28s %s", c.Key(), c.DisplayName)
			if c.UnreadCount > 0 {
				line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	})
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := oneShot(opts, &cobra.Command{
		Use:   "history <kind/id|assistant>",
		Short: "Print recent messages of a conversation",
		Args:  cobra.ExactArgs(1),
	}, func(ctx context.Context, a *app, args []string, out io.Writer, asJSON bool) error {
		key, err := model.ParseConversationKey(args[0])
		if err != nil {
			return err
		}
		var msgs []model.Message
		if key.Kind == model.KindAssistant {
			msgs, err = a.client.FetchAssistantHistory(ctx, limit)
		} else {
			msgs, err = a.client.FetchHistory(ctx, key, limit)
		}
		if err != nil {
			return err
		}
		return printMessages(out, msgs, a.self.UserID, asJSON)
	})
	cmd.Flags().IntVar(&limit, "limit", 50, "number of messages to fetch")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return oneShot(opts, &cobra.Command{
		Use:   "search <query>",
		Short: "Search messages across conversations",
		Args:  cobra.MinimumNArgs(1),
	}, func(ctx context.Context, a *app, args []string, out io.Writer, asJSON bool) error {
		msgs, err := a.client.SearchMessages(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printMessages(out, msgs, a.self.UserID, asJSON)
	})
}

func newSuggestCmd(opts *rootOptions) *cobra.Command {
	return oneShot(opts, &cobra.Command{
		Use:   "suggest </partial>",
		Short: "List assistant commands matching a partial command",
		Args:  cobra.ExactArgs(1),
	}, func(ctx context.Context, a *app, args []string, out io.Writer, asJSON bool) error {
		suggestions, err := a.client.SuggestCommands(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, map[string]any{"suggestions": suggestions})
		}
		for _, s := range suggestions {
			fmt.Fprintf(out, "%-16s %s\n", s.Command, s.Description)
		}
		return nil
	})
}

func newParticipantsCmd(opts *rootOptions) *cobra.Command {
	return oneShot(opts, &cobra.Command{
		Use:   "participants [query]",
		Short: "List or search people you can message",
	}, func(ctx context.Context, a *app, args []string, out io.Writer, asJSON bool) error {
		people, err := a.client.SearchParticipants(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, map[string]any{"users": people})
		}
		for _, p := range people {
			fmt.Fprintf(out, "direct/%-20s %s <%s>\n", p.ID, p.Name, p.Email)
		}
		return nil
	})
}

func printMessages(out io.Writer, msgs []model.Message, self string, asJSON bool) error {
	if asJSON {
		return printJSON(out, model.ListMessagesResponse{Messages: msgs, Count: len(msgs)})
	}
	for _, m := range msgs {
		fmt.Fprintln(out, formatMessage(m, self))
	}
	return nil
}
