package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-brain/internal/db"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <evidence-id>",
		Short: "Print an archived response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := a.newRuntime(ctx, runtimeOptions{store: true})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			resp, err := rt.brain.GetResponse(ctx, args[0])
			if err != nil {
				return err
			}
			return a.printJSON(resp)
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived responses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			rt, err := a.newRuntime(ctx, runtimeOptions{store: true})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			records, err := rt.brain.ListResponses(ctx, limit, offset)
			if err != nil {
				return err
			}
			if records == nil {
				records = []*db.ResponseRecord{}
			}
			return a.printJSON(records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of responses")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of responses to skip")
	return cmd
}

func newIntentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List the registered intents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.newRuntime(commandContext(cmd), runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			return a.printJSON(rt.brain.Intents())
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
