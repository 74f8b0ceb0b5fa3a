package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}

	var archived bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions of the chat type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.SessionStatusActive
			if archived {
				status = domain.SessionStatusArchived
			}
			sessions, err := a.registry.List(cmd.Context(), a.chatType, status)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	list.Flags().BoolVar(&archived, "archived", false, "list archived sessions")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.registry.Create(cmd.Context(), a.chatType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}

	archive := &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Archive a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.registry.Archive(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", args[0])
			return nil
		},
	}

	unarchive := &cobra.Command{
		Use:   "unarchive <session-id>",
		Short: "Restore an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.registry.Unarchive(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unarchived %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, create, archive, unarchive)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := a.registry.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func printSessions(w io.Writer, sessions []domain.ChatSession) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED\tLAST MESSAGE")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, title, s.UpdatedAt.Local().Format(time.DateTime), s.LastMessageSummary)
	}
	tw.Flush()
}

func printMessage(w io.Writer, m domain.ChatMessage) {
	fmt.Fprintf(w, "%s %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), label(m.Sender), m.Content)
}

func label(s domain.Sender) string {
	switch s {
	case domain.SenderUser:
		return "you"
	case domain.SenderAI:
		return "assistant"
	}
	return "system"
}
