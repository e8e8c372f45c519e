package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/workspace/gateway-host/internal/auth"
	"github.com/workspace/gateway-host/internal/config"
	"github.com/workspace/gateway-host/internal/persistence"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Inspect or reset the instance owner lock",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the instance owner, if any",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLock(func(lock *auth.InstanceLock) error {
					return showOwner(cmd, lock, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the instance owner so the next start locks to a new user",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLock(func(lock *auth.InstanceLock) error {
					if err := lock.Clear(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Instance owner cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

func withLock(fn func(*auth.InstanceLock) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	store, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	return fn(auth.NewInstanceLock(store))
}

func showOwner(cmd *cobra.Command, lock *auth.InstanceLock, w io.Writer) error {
	owner, err := lock.Owner(cmd.Context())
	if err != nil {
		return err
	}
	if owner == nil {
		fmt.Fprintln(w, "Instance is not locked")
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(owner)
}
