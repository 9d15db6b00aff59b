package main

import (
	"github.com/spf13/cobra"

	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/usage"
)

func usageCMD(get func() *env) *cobra.Command {
	var userID string
	var model string

	show := &cobra.Command{
		Use:   "show",
		Short: "Show token usage for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := usage.NewTracker(get().store)
			if model != "" {
				u, err := tracker.GetModelUsage(cmd.Context(), userID, model)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), u)
			}
			u, err := tracker.GetUserUsage(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
	show.Flags().StringVar(&userID, "user", chat.AnonymousUser, "user id")
	show.Flags().StringVar(&model, "model", "", "limit to one provider:model id")

	u := &cobra.Command{
		Use:   "usage",
		Short: "Token usage accounting",
	}
	u.AddCommand(show)
	return u
}
