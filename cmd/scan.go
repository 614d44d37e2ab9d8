package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScanCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one full collection and analysis pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if outputDir != "" {
				a.Cfg.OutputDir = outputDir
			}

			a.ServeMetrics()

			rep, err := a.Scanner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := rep.Write(a.Cfg.OutputDir); err != nil {
				return err
			}

			a.Logger.Info("scan complete",
				zap.String("run_id", rep.RunID),
				zap.String("output_dir", a.Cfg.OutputDir),
				zap.Int("articles", rep.RunCounters.Articles),
				zap.Int("posts", rep.RunCounters.DiscussionPosts),
				zap.Int("comments", rep.RunCounters.Comments),
				zap.Int("cities", len(rep.Cities)),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output", "", "override the output directory")
	return cmd
}
