package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/kasuwabot/internal/state"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage customer sessions",
}

func openSessions() (*state.SessionStore, error) {
	cfg := loadConfig()
	return state.NewSessionStore(filepath.Join(cfg.DataDir, "sessions.db"))
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all customer sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := openSessions()
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer sessions.Close()

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PHONE\tWELCOMED\tLAST MESSAGE\tCREATED")
		for _, s := range list {
			lastAt, err := sessions.LastEntryAt(ctx, s.Phone)
			last := "-"
			if err == nil && !lastAt.IsZero() {
				last = lastAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n",
				s.Phone,
				s.HasReceivedWelcome,
				last,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <phone>",
	Short: "Show a session's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := openSessions()
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer sessions.Close()

		ctx := context.Background()
		sess, err := sessions.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			return fmt.Errorf("session not found: %s", args[0])
		}

		history, err := sessions.History(ctx, args[0], 0)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Phone: %s\nWelcomed: %t\nCreated: %s\n",
			sess.Phone, sess.HasReceivedWelcome, sess.CreatedAt.Format("2006-01-02 15:04:05"))
		if sess.AdSource != nil {
			fmt.Fprintf(os.Stdout, "Ad: %s (%s)\n", sess.AdSource.Headline, sess.AdSource.Source)
		}
		fmt.Fprintln(os.Stdout)

		for _, e := range history {
			fmt.Fprintf(os.Stdout, "[%s] %s (%s): %s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Sender, e.Type, e.Content)
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <phone|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := openSessions()
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer sessions.Close()

		ctx := context.Background()
		if args[0] == "all" {
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				if err := sessions.DeleteSession(ctx, s.Phone); err != nil {
					return fmt.Errorf("delete session %s: %w", s.Phone, err)
				}
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		sess, err := sessions.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err := sessions.DeleteSession(ctx, args[0]); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}
