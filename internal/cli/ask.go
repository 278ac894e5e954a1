package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// exitMalformed is returned for questions the brain refuses to run.
const exitMalformed = 2

func newAskCmd(a *app) *cobra.Command {
	var (
		req     types.AskRequest
		persist bool
		dataDir string
	)
	cmd := &cobra.Command{
		Use:   `ask "<question>"`,
		Short: "Answer a question and print the BrainResponse JSON",
		Long: `Runs one question through the pipeline and prints the BrainResponse on stdout.

A degraded or refused answer is still a successful run. The command exits
non-zero only when the question itself is malformed, in which case an error
document is printed instead.`,
		Example: `  brain ask "Why is rack_02 degrading faster than rack_01?" --asset rack_01 --asset rack_02
  brain ask "Any temperature anomalies?" --asset rack_02 --start 2025-12-08T00:00:00Z --end 2025-12-09T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Question = args[0]
			return a.runAsk(commandContext(cmd), req, persist, dataDir)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&req.Assets, "asset", nil, "asset id to ask about (repeatable)")
	f.StringVar(&req.Role, "role", "", "requesting role: asset_manager, operator, analyst or engineer")
	f.StringVar(&req.Start, "start", "", "window start (RFC3339)")
	f.StringVar(&req.End, "end", "", "window end (RFC3339)")
	f.StringVar(&req.Boundary, "boundary", "", "pre/post split inside the window (RFC3339)")
	f.StringArrayVar(&req.Intents, "intent", nil, "force an intent instead of keyword matching (repeatable)")
	f.BoolVar(&persist, "persist", false, "archive the response in the sqlite store")
	f.StringVar(&dataDir, "data-dir", "", "read telemetry from this CSV dataset instead of the configured source")
	return cmd
}

func (a *app) runAsk(ctx context.Context, req types.AskRequest, persist bool, dataDir string) error {
	q, err := engine.QuestionFromRequest(req)
	if err != nil {
		return a.malformed(err)
	}

	rt, err := a.newRuntime(ctx, runtimeOptions{store: persist, dataDir: dataDir})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	resp, err := rt.brain.Ask(ctx, q)
	if err != nil {
		if engine.IsInputError(err) {
			return a.malformed(err)
		}
		return err
	}
	if persist {
		if err := rt.brain.Save(ctx, q, resp); err != nil {
			return fmt.Errorf("failed to persist response: %w", err)
		}
		rt.logger.Info("response archived", zap.String("evidence_id", resp.Evidence.EvidenceID))
	}
	return a.printJSON(resp)
}

// malformed prints the error document and returns the malformed exit code.
func (a *app) malformed(err error) error {
	if perr := a.printJSON(types.ErrorResponse{Error: err.Error(), Code: engine.ErrorCode(err)}); perr != nil {
		return perr
	}
	return &ExitError{Code: exitMalformed, Err: err}
}
