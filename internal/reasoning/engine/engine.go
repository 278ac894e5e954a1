package engine

// Package engine is the reasoning orchestrator of the brain.
//
// One call to Ask runs one question through the pipeline:
//
//	Question -> Resolver -> per intent: ResolvingRequirements, Gathering,
//	Computing, Validating (or Aborted) -> BuildingEvidence -> Scoring ->
//	Assembling -> Done
//
// Intents of the same dependency layer run concurrently, each recording into
// its own evidence scope. Scopes are committed in plan order once the layer
// completes, so the evidence bundle is identical across runs. Every question
// gets a fresh run; nothing but the read-only ports is shared between
// questions.
//
// Only malformed input is returned as an error. Missing data, failed adapters
// and failed models become gaps in the evidence and lower the confidence.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/audit"
	"github.com/kubilitics/kubilitics-brain/internal/db"
	"github.com/kubilitics/kubilitics-brain/internal/metrics"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/confidence"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/evidence"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/response"
	"github.com/kubilitics/kubilitics-brain/internal/tracing"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// ErrNoStore is returned by archive operations when no store is configured.
var ErrNoStore = errors.New("response archive not configured")

// Brain answers questions.
type Brain interface {
	// Ask runs the full pipeline for q.
	Ask(ctx context.Context, q types.Question) (*types.BrainResponse, error)

	// Intents lists the registered intents.
	Intents() []types.IntentInfo

	// Save archives a finalized response.
	Save(ctx context.Context, q types.Question, resp *types.BrainResponse) error

	// GetResponse reads an archived response.
	GetResponse(ctx context.Context, evidenceID string) (*types.BrainResponse, error)

	// ListResponses lists archived responses, newest first.
	ListResponses(ctx context.Context, limit, offset int) ([]*db.ResponseRecord, error)
}

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrentRequests bounds the adapter requests in flight per intent.
	MaxConcurrentRequests int
	// Granularity is reported in data_used for time series requests.
	Granularity   string
	DefaultWindow types.TimeWindow
	DefaultRole   string
	Confidence    confidence.Config
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	return Config{
		MaxConcurrentRequests: 4,
		Granularity:           "15min",
		DefaultWindow:         types.TimeWindow{Start: start, End: start.Add(14 * 24 * time.Hour)},
		DefaultRole:           "asset_manager",
		Confidence:            confidence.DefaultConfig(),
	}
}

// Deps are the collaborators of the engine. Telemetry, Models and KB are
// required.
type Deps struct {
	Telemetry adapters.Telemetry
	Models    adapters.ModelRunner
	KB        adapters.KnowledgeBase
	// Registry defaults to the built-in intents.
	Registry *intent.Registry
	Store    db.ResponseStore
	Audit    audit.Logger
	Logger   *zap.Logger
	// Synthetic marks telemetry from the synthetic generator.
	Synthetic bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the Brain implementation.
type Engine struct {
	cfg       Config
	deps      Deps
	tel       adapters.Telemetry
	resolver  *intent.Resolver
	scorer    *confidence.Scorer
	assembler *response.Assembler
	validate  *validator.Validate
	logger    *zap.Logger
	auditLog  audit.Logger
}

var _ Brain = (*Engine)(nil)

// New creates an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Telemetry == nil || deps.Models == nil || deps.KB == nil {
		return nil, fmt.Errorf("engine needs telemetry, model and knowledge base ports")
	}
	def := DefaultConfig()
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = def.DefaultRole
	}
	if cfg.DefaultWindow.Start.IsZero() || cfg.DefaultWindow.End.IsZero() {
		cfg.DefaultWindow = def.DefaultWindow
	}
	if deps.Registry == nil {
		deps.Registry = intent.DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.Named("engine")
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		tel:       deps.Telemetry,
		resolver:  intent.NewResolver(deps.Registry),
		scorer:    confidence.NewScorer(cfg.Confidence),
		assembler: response.NewAssembler(logger),
		validate:  newValidator(),
		logger:    logger,
		auditLog:  deps.Audit,
	}, nil
}

// Intents lists the registered intents in declaration order.
func (e *Engine) Intents() []types.IntentInfo {
	defs := e.deps.Registry.Definitions()
	out := make([]types.IntentInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Info())
	}
	return out
}

// ErrorCode maps an Ask error onto a stable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, intent.ErrUnrecognizedIntent):
		return "unrecognized_intent"
	case errors.Is(err, intent.ErrMissingAssets):
		return "missing_assets"
	case errors.Is(err, ErrMalformedQuestion):
		return "malformed_question"
	default:
		return "internal"
	}
}

// IsInputError reports whether err is caused by the question itself.
func IsInputError(err error) bool {
	return ErrorCode(err) != "internal"
}

// run is the state of one question.
type run struct {
	e         *Engine
	q         types.Question
	defaulted bool
	plan      *intent.Plan
	builder   *evidence.Builder
	fetcher   *fetcher
	question  *machine
	intents   []*intentRun
	outcomes  map[intent.Kind]*intent.Outcome
}

// intentRun is the state of one intent of a question.
type intentRun struct {
	def      *intent.Definition
	m        *machine
	scope    *evidence.Scope
	assets   []string
	data     map[string]*intent.AssetData
	fragment *intent.Fragment
}

func (st *intentRun) asset(id string) *intent.AssetData {
	d, ok := st.data[id]
	if !ok {
		d = &intent.AssetData{AssetID: id}
		st.data[id] = d
	}
	return d
}

// Ask answers q.
func (e *Engine) Ask(ctx context.Context, q types.Question) (resp *types.BrainResponse, err error) {
	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "brain.ask", attribute.StringSlice("assets", q.Assets))
	defer func() { tracing.End(span, err) }()

	q, defaulted, err := e.normalize(q)
	if err != nil {
		return nil, e.reject(ctx, q, err)
	}
	plan, err := e.resolver.Resolve(q)
	if err != nil {
		return nil, e.reject(ctx, q, err)
	}

	r := &run{
		e:         e,
		q:         q,
		defaulted: defaulted,
		plan:      plan,
		builder: evidence.NewBuilder(evidence.Header{
			GeneratedAt: e.deps.Now().UTC(),
			Question:    q.Text,
			Intent:      strings.Join(plan.Names(), "+"),
			Role:        q.Role,
		}),
		fetcher:  newFetcher(e.tel),
		question: newMachine("question", questionTransitions),
		outcomes: map[intent.Kind]*intent.Outcome{},
	}
	id := r.builder.ID()
	span.SetAttributes(attribute.String("evidence_id", id), attribute.String("intents", strings.Join(plan.Names(), ",")))
	logger := e.logger.With(zap.String("evidence_id", id))
	auditCtx := audit.WithCorrelationID(ctx, id)
	e.audit(e.auditLog.LogQuestionReceived(auditCtx, id, q.Text, q.Assets, q.Role))
	e.audit(e.auditLog.LogIntentResolved(auditCtx, id, plan.Names()))
	logger.Info("Question resolved",
		zap.Strings("intents", plan.Names()),
		zap.Strings("assets", q.Assets),
		zap.Bool("boundary_defaulted", defaulted),
	)

	for _, layer := range plan.Layers() {
		if err := r.runLayer(ctx, layer); err != nil {
			logger.Error("Pipeline failed", zap.Error(err))
			return nil, err
		}
	}
	out, err := r.finish(ctx)
	if err != nil {
		logger.Error("Pipeline failed", zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	duration := time.Since(started)
	metrics.PipelineDuration.Observe(duration.Seconds())
	metrics.QuestionsTotal.WithLabelValues(string(out.Confidence.Band), string(out.Confidence.Escalation)).Inc()
	for _, g := range out.Evidence.AssumptionsAndGaps.Gaps {
		metrics.GapsTotal.WithLabelValues(g.Category, g.Severity).Inc()
	}
	e.audit(e.auditLog.LogResponseAssembled(auditCtx, id, string(out.Confidence.Band), string(out.Confidence.Escalation), duration))
	logger.Info("Question answered",
		zap.String("band", string(out.Confidence.Band)),
		zap.String("escalation", string(out.Confidence.Escalation)),
		zap.Bool("answered", out.Answer != nil),
		zap.Duration("duration", duration),
	)
	return out, nil
}

func (e *Engine) reject(ctx context.Context, q types.Question, err error) error {
	code := ErrorCode(err)
	metrics.QuestionRejectionsTotal.WithLabelValues(code).Inc()
	e.audit(e.auditLog.LogQuestionRejected(ctx, q.Text, err, code))
	e.logger.Info("Question rejected", zap.String("code", code), zap.Error(err))
	return err
}

func (e *Engine) audit(err error) {
	if err != nil {
		e.logger.Warn("Failed to write audit event", zap.Error(err))
	}
}

// runLayer runs the intents of one dependency layer concurrently and commits
// their scopes in plan order.
func (r *run) runLayer(ctx context.Context, layer []intent.Step) error {
	runs := make([]*intentRun, len(layer))
	for i, step := range layer {
		runs[i] = &intentRun{
			def:    step.Def,
			m:      newMachine(string(step.Def.Kind), intentTransitions),
			scope:  r.builder.Scope(string(step.Def.Kind)),
			assets: r.q.Assets,
			data:   map[string]*intent.AssetData{},
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range runs {
		g.Go(func() error { return r.runIntent(gctx, st) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, st := range runs {
		if err := st.scope.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", st.def.Kind, err)
		}
		o := &intent.Outcome{
			Kind:         st.def.Kind,
			Aborted:      st.m.aborted(),
			Reason:       st.m.reason,
			Computations: st.scope.Computations(),
		}
		if !o.Aborted {
			o.Fragment = st.fragment
		}
		r.outcomes[st.def.Kind] = o
		r.intents = append(r.intents, st)
		metrics.IntentRunsTotal.WithLabelValues(string(st.def.Kind), string(st.m.current())).Inc()
	}
	return nil
}

// runIntent walks one intent through its state machine. Only programming
// errors are returned; everything else ends in Done or Aborted.
func (r *run) runIntent(ctx context.Context, st *intentRun) (err error) {
	kind := st.def.Kind
	ctx, span := tracing.StartSpan(ctx, "brain.intent", attribute.String("intent", string(kind)))
	defer func() { tracing.End(span, err) }()

	if err := st.m.to(StateResolvingRequirements); err != nil {
		return err
	}
	if err := st.m.to(StateGathering); err != nil {
		return err
	}
	var abort bool
	var reason string
	err = stage(ctx, "gathering", func(ctx context.Context) error {
		var gerr error
		abort, reason, gerr = r.gather(ctx, st)
		return gerr
	})
	if err != nil {
		return err
	}
	if abort {
		return r.abort(ctx, st, reason)
	}

	if err := st.m.to(StateComputing); err != nil {
		return err
	}
	upstream := map[intent.Kind]*intent.Outcome{}
	for _, dep := range st.def.DependsOn {
		o := r.outcomes[dep]
		if o == nil || o.Aborted {
			why := "did not run"
			if o != nil {
				why = "aborted: " + o.Reason
			}
			note := fmt.Sprintf("depends on %s, which %s", dep, why)
			if err := st.scope.RecordGap(types.GapDependency, types.SeverityCritical, note); err != nil {
				return err
			}
			return r.abort(ctx, st, note)
		}
		upstream[dep] = o
	}

	x := &intent.Exec{
		Kind:              kind,
		Question:          r.q,
		Window:            r.q.Window,
		Boundary:          *r.q.Boundary,
		BoundaryDefaulted: r.defaulted,
		Synthetic:         r.e.deps.Synthetic,
		Spec:              st.def.Spec,
		Rec:               st.scope,
		KB:                r.e.deps.KB,
		Models:            r.e.deps.Models,
		Data:              st.data,
		Upstream:          upstream,
		Logger:            r.e.logger.Named(string(kind)),
	}
	var frag *intent.Fragment
	err = stage(ctx, "computing", func(ctx context.Context) error {
		var cerr error
		frag, cerr = st.def.Compute(ctx, x)
		return cerr
	})
	if err != nil {
		if isRecorderError(err) {
			return fmt.Errorf("%s: %w", kind, err)
		}
		note := fmt.Sprintf("%s computation failed: %v", kind, err)
		if rerr := st.scope.RecordGap(types.GapComputation, types.SeverityCritical, note); rerr != nil {
			return rerr
		}
		return r.abort(ctx, st, note)
	}

	if err := st.m.to(StateValidating); err != nil {
		return err
	}
	if err := stage(ctx, "validating", func(context.Context) error { return validateIntent(st) }); err != nil {
		return err
	}
	if note, ok := abortReason(st.scope.Gaps()); ok {
		return r.abort(ctx, st, note)
	}

	if frag != nil {
		frag.Intent = kind
	}
	st.fragment = frag
	return st.m.to(StateDone)
}

func (r *run) abort(ctx context.Context, st *intentRun, reason string) error {
	if err := st.m.abort(reason); err != nil {
		return err
	}
	r.e.audit(r.e.auditLog.LogIntentAborted(ctx, r.builder.ID(), string(st.def.Kind), reason))
	r.e.logger.Info("Intent aborted",
		zap.String("evidence_id", r.builder.ID()),
		zap.String("intent", string(st.def.Kind)),
		zap.String("reason", reason),
	)
	return nil
}

func stage(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, span := tracing.StartSpan(ctx, "brain.intent."+name)
	defer func() { tracing.End(span, err) }()
	return fn(ctx)
}

func isRecorderError(err error) bool {
	return errors.Is(err, evidence.ErrCommitted) ||
		errors.Is(err, evidence.ErrFinalized) ||
		errors.Is(err, evidence.ErrUnknownAssumption)
}

// finish runs the question-level states on whatever the intents produced.
func (r *run) finish(ctx context.Context) (*types.BrainResponse, error) {
	e := r.e
	if err := r.question.to(StateBuildingEvidence); err != nil {
		return nil, err
	}

	statuses := make([]response.IntentStatus, 0, len(r.intents))
	var fragments []*intent.Fragment
	answered := false
	for _, st := range r.intents {
		o := r.outcomes[st.def.Kind]
		statuses = append(statuses, response.IntentStatus{Kind: st.def.Kind, State: string(st.m.current()), Reason: o.Reason})
		if o.Aborted {
			if err := r.builder.AddRiskNote(fmt.Sprintf("%s aborted: %s", st.def.Kind, o.Reason)); err != nil {
				return nil, err
			}
			continue
		}
		if o.Fragment != nil {
			fragments = append(fragments, o.Fragment)
			answered = true
		}
	}

	var refusal *adapters.Artifact
	if !answered {
		if a, ok := e.deps.KB.Template(ctx, response.RefusalTemplate); ok {
			refusal = &a
			if err := r.builder.RecordKBRule(types.KBRule{
				KBRef:          response.RefusalTemplate,
				Kind:           adapters.ArtifactTemplate,
				RuleSummary:    a.Summary,
				ImpactOnAnswer: "Rendered as the refusal because no intent produced an answer.",
			}); err != nil {
				return nil, err
			}
		} else if err := r.builder.RecordGap(types.GapKnowledge, types.SeveritySoft,
			fmt.Sprintf("template %s not found in knowledge base", response.RefusalTemplate)); err != nil {
			return nil, err
		}
	}

	linked := response.Link(fragments, r.builder.Computations())
	for _, note := range linked.Rejections {
		if err := r.builder.AddRiskNote(note); err != nil {
			return nil, err
		}
	}
	bundle, err := r.builder.Finalize()
	if err != nil {
		return nil, err
	}

	if err := r.question.to(StateScoring); err != nil {
		return nil, err
	}
	reqs := make([]confidence.Requirement, 0, len(r.intents))
	for _, st := range r.intents {
		spec := st.def.Spec
		reqs = append(reqs, confidence.Requirement{
			Intent:         string(st.def.Kind),
			Signals:        spec.CriticalSignals(),
			MinHorizon:     spec.MinHorizon,
			KBRefs:         spec.KBRefs(),
			CriticalModels: spec.CriticalModels(),
			Window:         r.q.Window,
		})
	}
	assessment := e.scorer.Score(bundle, reqs)

	if err := r.question.to(StateAssembling); err != nil {
		return nil, err
	}
	resp := e.assembler.Assemble(response.Input{
		Bundle:     bundle,
		Assessment: assessment,
		Linked:     linked,
		Statuses:   statuses,
		Refusal:    refusal,
	})
	if err := r.question.to(StateDone); err != nil {
		return nil, err
	}
	resp.Data["pipeline"] = r.pipeline()
	return &resp, nil
}

// pipeline is the state trail emitted under data.pipeline.
func (r *run) pipeline() map[string]any {
	perIntent := make(map[string][]string, len(r.intents))
	for _, st := range r.intents {
		perIntent[string(st.def.Kind)] = st.m.Trail()
	}
	return map[string]any{
		"question": r.question.Trail(),
		"intents":  perIntent,
	}
}

// Save archives a finalized response.
func (e *Engine) Save(ctx context.Context, q types.Question, resp *types.BrainResponse) error {
	if e.deps.Store == nil {
		return ErrNoStore
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	intents, _ := resp.Data["intents"].([]string)
	rec := &db.ResponseRecord{
		EvidenceID: resp.Evidence.EvidenceID,
		Question:   resp.Evidence.Question,
		Assets:     q.Assets,
		Intents:    intents,
		Role:       resp.Evidence.Role,
		Band:       string(resp.Confidence.Band),
		Escalation: string(resp.Confidence.Escalation),
		Answered:   resp.Answer != nil,
		Body:       string(body),
		CreatedAt:  resp.Evidence.GeneratedAt,
	}
	if err := e.deps.Store.SaveResponse(ctx, rec); err != nil {
		return err
	}
	e.audit(e.auditLog.LogResponsePersisted(ctx, rec.EvidenceID))
	return nil
}

// GetResponse reads an archived response.
func (e *Engine) GetResponse(ctx context.Context, evidenceID string) (*types.BrainResponse, error) {
	if e.deps.Store == nil {
		return nil, ErrNoStore
	}
	rec, err := e.deps.Store.GetResponse(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	var resp types.BrainResponse
	if err := json.Unmarshal([]byte(rec.Body), &resp); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", evidenceID, err)
	}
	return &resp, nil
}

// ListResponses lists archived responses, newest first.
func (e *Engine) ListResponses(ctx context.Context, limit, offset int) ([]*db.ResponseRecord, error) {
	if e.deps.Store == nil {
		return nil, ErrNoStore
	}
	return e.deps.Store.ListResponses(ctx, limit, offset)
}
