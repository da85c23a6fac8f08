package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		workspaceID string
		userID      string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token scoped to a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.SecretKey == "" {
				return errors.New("SECRET_KEY is required to sign tokens")
			}

			token, err := utils.GenerateToken(cfg.SecretKey, workspaceID, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id the token is scoped to")
	cmd.Flags().StringVar(&userID, "user", "", "user id recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}
