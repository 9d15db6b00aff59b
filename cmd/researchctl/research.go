package main

import (
	"github.com/spf13/cobra"

	"github.com/research-agent/backend/internal/research"
)

func researchCMD(get func() *env) *cobra.Command {
	var ranked bool

	show := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Show a chat's research session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := get()
			s, err := research.NewStore(e.store, e.maxDepth).Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ranked {
				return printJSON(cmd.OutOrStdout(), research.RankSources(s.Sources, s.CurrentDepth, s.MaxDepth))
			}
			return printJSON(cmd.OutOrStdout(), research.NewView(s))
		},
	}
	show.Flags().BoolVar(&ranked, "ranked", false, "print sources with composite scores")

	setCleared := func(use, short string, cleared bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <chat-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e := get()
				s, err := research.NewStore(e.store, e.maxDepth).SetCleared(cmd.Context(), args[0], cleared)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), research.NewView(s))
			},
		}
	}

	r := &cobra.Command{
		Use:   "research",
		Short: "Research session state",
	}
	r.AddCommand(
		show,
		setCleared("clear", "Clear a chat's research and drop its logs", true),
		setCleared("reactivate", "Reactivate a cleared research session", false),
	)
	return r
}
