package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/research-agent/backend/internal/chat"
)

type chatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	Messages  int    `json:"messages"`
}

func chatsCMD(get func() *env) *cobra.Command {
	var userID string

	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's chats, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := get()
			chats, err := chat.NewRepository(e.store, e.chartTag).List(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := make([]chatSummary, 0, len(chats))
			for _, c := range chats {
				out = append(out, chatSummary{
					ID:        c.ID,
					Title:     c.Title,
					CreatedAt: c.CreatedAt.Format("2006-01-02 15:04:05"),
					Messages:  len(c.Messages),
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	del := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and its research state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := get()
			if err := chat.NewRepository(e.store, e.chartTag).Delete(cmd.Context(), userID, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}

	c := &cobra.Command{
		Use:   "chats",
		Short: "Stored chats",
	}
	c.PersistentFlags().StringVar(&userID, "user", chat.AnonymousUser, "user id")
	c.AddCommand(list, del)
	return c
}
