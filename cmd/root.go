// Package cmd defines the citypulse CLI.
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ourcityhealth/citypulse/internal/app"
)

type appKey struct{}

// Execute runs the CLI with the given base context.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "citypulse",
		Short:         "Collects and analyzes news and discussion about tracked cities",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := appFrom(cmd); err == nil {
				a.Close(cmd.Context())
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the config file")
	root.AddCommand(newScanCmd())
	return root
}

func appFrom(cmd *cobra.Command) (*app.App, error) {
	a, ok := cmd.Context().Value(appKey{}).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application not initialized")
	}
	return a, nil
}
