package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/airactl/internal/api"
	"github.com/gosuda/airactl/internal/auth"
	"github.com/gosuda/airactl/internal/config"
)

// clientFromEnv loads configuration and builds the REST client.
func clientFromEnv() (*config.Config, *api.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, api.New(cfg.API, cfg.Token), nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := clientFromEnv()
			if err != nil {
				return err
			}
			if err := client.Health(cmd.Context()); err != nil {
				return fmt.Errorf("backend %s unreachable: %w", cfg.API.URL, err)
			}
			fmt.Printf("ok: %s\n", cfg.API.URL)
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity in the configured token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			id, err := auth.FromToken(cfg.Token)
			if err != nil {
				return err
			}

			fmt.Println(id.Display())
			if !id.ExpiresAt.IsZero() {
				if id.Expired(time.Now()) {
					fmt.Printf("token expired at %s\n", id.ExpiresAt.Format(time.RFC3339))
				} else {
					fmt.Printf("token valid until %s\n", id.ExpiresAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}
