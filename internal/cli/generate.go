package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters/telemetry"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		out  string
		seed int64
		days int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the synthetic site as a CSV dataset",
		Long: `Writes assets.json, telemetry.csv and events.csv for the synthetic site.
The output can be read back with "brain ask --data-dir" or telemetry.source: csv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.loadConfig(commandContext(cmd))
			if err != nil {
				return err
			}
			logger, err := a.newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			scfg := telemetry.DefaultSyntheticConfig()
			scfg.Seed = seed
			scfg.Days = days
			if cfg.Telemetry.Cadence > 0 {
				scfg.Cadence = cfg.Telemetry.Cadence
			}
			ds := telemetry.GenerateSynthetic(scfg)
			if err := telemetry.WriteDir(out, ds); err != nil {
				return err
			}
			rows := 0
			for _, r := range ds.Readings {
				rows += len(r)
			}
			logger.Info("synthetic dataset written",
				zap.String("dir", out), zap.Int64("seed", seed), zap.Int("rows", rows), zap.Int("events", len(ds.Events)))
			_, err = fmt.Fprintln(a.stdout, out)
			return err
		},
	}
	defaults := telemetry.DefaultSyntheticConfig()
	cmd.Flags().StringVar(&out, "out", "data", "output directory")
	cmd.Flags().Int64Var(&seed, "seed", defaults.Seed, "random seed")
	cmd.Flags().IntVar(&days, "days", defaults.Days, "number of days to generate")
	return cmd
}
