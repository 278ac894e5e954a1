package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters/knowledge"
	"github.com/kubilitics/kubilitics-brain/internal/db"
)

func newKBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}
	cmd.AddCommand(newKBSyncCmd(a))
	return cmd
}

func newKBSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Copy the YAML knowledge base into the sqlite mirror",
		Long: `Copies every artifact of knowledge.dir (or the embedded base when it is
empty) into the kb_artifacts table. Set knowledge.use_sqlite_mirror to serve
lookups from the mirror afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			_, cfg, err := a.loadConfig(ctx)
			if err != nil {
				return err
			}
			logger, err := a.newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			src, err := knowledge.Default()
			if cfg.Knowledge.Dir != "" {
				src, err = knowledge.LoadDir(cfg.Knowledge.Dir)
			}
			if err != nil {
				return err
			}

			store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := knowledge.Sync(ctx, store, src)
			if err != nil {
				return err
			}
			logger.Info("knowledge base mirrored", zap.String("database", cfg.Database.SQLitePath), zap.Int("artifacts", n))
			return a.printJSON(map[string]any{"synced": n, "database": cfg.Database.SQLitePath})
		},
	}
}
