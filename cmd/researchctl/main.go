package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/research-agent/backend/internal/storage/kv"
	"github.com/research-agent/backend/internal/storage/memory"
	"github.com/research-agent/backend/internal/storage/redis"
	"github.com/research-agent/backend/pkg/config"
)

// env is the storage the subcommands operate on.
type env struct {
	store    kv.Store
	maxDepth int
	chartTag string
}

type opener func(ctx context.Context) (*env, error)

func main() {
	if err := newRootCmd(openFromConfig).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	var e *env

	root := &cobra.Command{
		Use:           "researchctl",
		Short:         "Inspect and manage chats, research sessions and usage",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			e, err = open(cmd.Context())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e != nil {
				return e.store.Close()
			}
			return nil
		},
	}

	get := func() *env { return e }
	root.AddCommand(usageCMD(get), researchCMD(get), chatsCMD(get))
	return root
}

func openFromConfig(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	e := &env{maxDepth: cfg.Research.MaxDepth, chartTag: cfg.Chart.Tag}
	if cfg.Storage.Driver == "memory" {
		e.store = memory.NewStore()
		return e, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	e.store = client
	return e, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
