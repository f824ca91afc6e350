// Package orchestrator runs a batch of packages through publish, sync and
// install or upgrade against one target.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/apppublish/internal/core/agent"
	"github.com/artpar/apppublish/internal/core/deployment"
	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/artpar/apppublish/internal/core/transport"
	"github.com/artpar/apppublish/internal/shell/devendpoint"
	"github.com/artpar/apppublish/internal/shell/packagefile"
	"github.com/artpar/apppublish/internal/shell/session"
	"github.com/artpar/apppublish/internal/shell/workarea"
	"github.com/google/uuid"
)

// =============================================================================
// States
// =============================================================================

// State is a step of a publish run, logged at each transition.
type State string

const (
	StateStaged    State = "staged"
	StateSorted    State = "sorted"
	StateProcessed State = "processed"
	StatePublished State = "published"
	StateSynced    State = "synced"
	StateInstalled State = "installed"
	StateUpgraded  State = "upgraded"
	StateDone      State = "done"
)

var stageStates = map[domain.Stage]State{
	domain.StagePublish: StatePublished,
	domain.StageSync:    StateSynced,
	domain.StageInstall: StateInstalled,
	domain.StageUpgrade: StateUpgraded,
}

// =============================================================================
// Collaborators
// =============================================================================

// Recorder receives the history of publish runs.
// store.Store satisfies it.
type Recorder interface {
	CreateRun(ctx context.Context, run *domain.PublishRun) error
	RecordStage(ctx context.Context, stage *domain.StageRecord) error
	// CompleteRun stores the failed stages of a run together with its outcome.
	CompleteRun(ctx context.Context, run *domain.PublishRun, stages []*domain.StageRecord) error
}

// Config wires an Orchestrator.
type Config struct {
	WorkDir string                      // Parent of working areas, system temp dir when empty
	Servers domain.ServerConfigProvider // Required for local server targets
	Staging domain.FileStaging          // Defaults to workarea.LocalStaging
	Channel agent.Channel               // Required for session publishing
	Paths   session.PathMapping         // Maps working area paths to the server's view
	History Recorder                    // Optional
	Logger  *slog.Logger
	Now     func() time.Time
}

// Request is one orchestration call.
type Request struct {
	Target  domain.Target
	Sources []string
	Options domain.PublishOptions

	// OnPublished is called once per successfully processed package, in order.
	OnPublished func(domain.Confirmation)
}

// Result is what a run achieved. It is returned alongside an error when the
// batch fails part way through.
type Result struct {
	RunID         string
	Transport     domain.TransportKind
	Confirmations []domain.Confirmation
}

// Orchestrator sequences packages through the lifecycle steps.
type Orchestrator struct {
	cfg    Config
	http   *devendpoint.Client
	logger *slog.Logger
}

// New creates a new Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Staging == nil {
		cfg.Staging = workarea.LocalStaging{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		cfg:    cfg,
		http:   devendpoint.NewClient(cfg.Logger),
		logger: cfg.Logger,
	}
}

// =============================================================================
// Publish
// =============================================================================

// Publish stages, orders and publishes every package in req.
//
// Options, target and transport are validated before anything touches the
// filesystem or the network. Packages are processed one at a time in
// dependency order and the first failure stops the batch. The working area
// is removed on every exit path.
func (o *Orchestrator) Publish(ctx context.Context, req Request) (*Result, error) {
	result := &Result{RunID: uuid.New().String()}
	opts := req.Options.Normalize()

	if err := opts.Validate(); err != nil {
		return result, domain.NewPublishError(domain.StageValidate, "", "invalid options", err)
	}
	if err := req.Target.Validate(); err != nil {
		return result, domain.NewPublishError(domain.StageValidate, "", "invalid target", err)
	}
	if len(req.Sources) == 0 {
		return result, domain.NewPublishError(domain.StageValidate, "", "no packages given", domain.ErrInvalidOptions)
	}

	server, err := o.serverConfig(ctx, req.Target)
	if err != nil {
		return result, domain.NewPublishError(domain.StageSelect, "", "resolve server instance", err)
	}
	kind, err := transport.Select(req.Target, server, opts)
	if err != nil {
		return result, domain.NewPublishError(domain.StageSelect, "", "select transport", err)
	}
	if kind == domain.TransportSession && o.cfg.Channel == nil {
		return result, domain.NewPublishError(domain.StageSelect, "", "select transport",
			fmt.Errorf("%w: no remote command channel configured", domain.ErrUnsupportedTarget))
	}
	result.Transport = kind

	logger := o.logger.With(
		"run_id", result.RunID,
		"target", domain.TargetLabel(req.Target),
		"transport", kind,
	)
	run := domain.NewPublishRun(result.RunID, req.Target, len(req.Sources), o.cfg.Now())
	run.Transport = kind
	history := o.newRunHistory(logger, result.RunID)
	history.create(ctx, run)

	err = o.run(ctx, logger, history, req, opts, server, kind, result)

	run.Finish(err, o.cfg.Now())
	history.finish(ctx, run)
	if err != nil {
		logger.Error("publish run failed", "published", len(result.Confirmations), "error", err)
		return result, err
	}
	logger.Info("publish run finished", "state", StateDone, "published", len(result.Confirmations))
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, history *runHistory, req Request, opts domain.PublishOptions,
	server *domain.ServerInstance, kind domain.TransportKind, result *Result) error {
	area, err := workarea.New(o.cfg.WorkDir, logger)
	if err != nil {
		return domain.NewPublishError(domain.StageStage, "", "create working area", err)
	}
	defer area.Release()

	staged, err := o.cfg.Staging.Stage(ctx, area.Path(), req.Sources)
	if err != nil {
		history.stage(ctx, "", domain.StageStage, err)
		return domain.NewPublishError(domain.StageStage, "", "stage packages", err)
	}
	history.stage(ctx, "", domain.StageStage, nil)
	logger.Info("packages staged", "state", StateStaged, "count", len(staged))

	pkgs, err := packagefile.ReadAll(staged)
	if err != nil {
		history.stage(ctx, "", domain.StageSort, err)
		return err
	}
	sorted, err := deployment.SortPackages(pkgs)
	if err != nil {
		history.stage(ctx, "", domain.StageSort, err)
		return domain.NewPublishError(domain.StageSort, "", "order packages", err)
	}
	history.stage(ctx, "", domain.StageSort, nil)
	for _, msg := range deployment.UnmetMinimums(sorted) {
		logger.Warn("dependency version not satisfied within batch", "detail", msg)
	}
	logger.Info("packages sorted", "state", StateSorted, "order", packageNames(sorted))

	publisher, err := o.publisher(req.Target, server, kind, opts)
	if err != nil {
		return domain.NewPublishError(domain.StageSelect, "", "prepare transport", err)
	}

	for _, pkg := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}

		confirmation, err := o.publishOne(ctx, logger.With("package", pkg.Name()), history, pkg, opts, kind, publisher)
		if err != nil {
			return err
		}
		result.Confirmations = append(result.Confirmations, confirmation)
		if req.OnPublished != nil {
			req.OnPublished(confirmation)
		}
	}
	return nil
}

func (o *Orchestrator) publishOne(ctx context.Context, logger *slog.Logger, history *runHistory, pkg domain.Package,
	opts domain.PublishOptions, kind domain.TransportKind, publish publishFunc) (domain.Confirmation, error) {
	if opts.Preprocess.Requested() {
		out, err := packagefile.Rewrite(pkg.Path, opts.Preprocess)
		if err != nil {
			history.stage(ctx, pkg.Name(), domain.StagePreprocess, err)
			return domain.Confirmation{}, domain.NewPublishError(domain.StagePreprocess, pkg.Name(), "pre-process package", err)
		}
		history.stage(ctx, pkg.Name(), domain.StagePreprocess, nil)
		pkg = out.Package
		logger.Info("package pre-processed",
			"state", StateProcessed,
			"modified", out.Modified(),
			"replaced_dependencies", out.Changes.ReplacedDependencies,
			"added_modules", out.Changes.AddedModules,
			"package_id_replaced", out.PackageIDReplaced,
		)
	}

	res, err := publish(ctx, pkg)
	for _, stage := range res.Stages {
		history.stage(ctx, pkg.Name(), stage, nil)
		logger.Info("package stage completed", "state", stageStates[stage], "stage", stage)
	}
	if err != nil {
		stage := domain.StagePublish
		var perr *domain.PublishError
		if errors.As(err, &perr) {
			stage = perr.Stage
		} else {
			err = domain.NewPublishError(stage, pkg.Name(), "", err)
		}
		history.stage(ctx, pkg.Name(), stage, err)
		return domain.Confirmation{}, err
	}

	return domain.Confirmation{
		Package:     pkg.Identity,
		Transport:   kind,
		Skipped:     res.Skipped,
		Stages:      res.Stages,
		PublishedAt: o.cfg.Now(),
	}, nil
}

// =============================================================================
// Transports
// =============================================================================

type publishFunc func(ctx context.Context, pkg domain.Package) (session.Result, error)

func (o *Orchestrator) publisher(target domain.Target, server *domain.ServerInstance, kind domain.TransportKind,
	opts domain.PublishOptions) (publishFunc, error) {
	if kind == domain.TransportSession {
		t := session.New(o.cfg.Channel, session.Config{
			ServerInstance: server.ServiceName,
			Paths:          o.cfg.Paths,
		}, o.logger)
		return func(ctx context.Context, pkg domain.Package) (session.Result, error) {
			return t.Run(ctx, pkg, opts)
		}, nil
	}

	baseURL, err := transport.DevEndpointURL(target, server)
	if err != nil {
		return nil, err
	}
	auth, err := devendpoint.AuthorizerFor(target, server)
	if err != nil {
		return nil, err
	}
	tls := devendpoint.TLSPolicy{
		SkipVerify: target.Cloud == nil && server != nil && server.DevEndpointTLS,
	}
	return func(ctx context.Context, pkg domain.Package) (session.Result, error) {
		err := o.http.Publish(ctx, devendpoint.Request{
			BaseURL:  baseURL,
			Path:     pkg.Path,
			FileName: deployment.PackageFileName(pkg.Identity),
			SyncMode: opts.SyncMode,
			Tenant:   opts.Tenant,
			Auth:     auth,
			TLS:      tls,
		})
		if err != nil {
			return session.Result{}, err
		}
		return session.Result{Stages: []domain.Stage{domain.StagePublish}}, nil
	}, nil
}

func (o *Orchestrator) serverConfig(ctx context.Context, target domain.Target) (*domain.ServerInstance, error) {
	if target.Kind() == domain.TargetCloudTenant {
		return nil, nil
	}
	if o.cfg.Servers == nil {
		return nil, fmt.Errorf("%w: no server config provider", domain.ErrUnsupportedTarget)
	}
	return o.cfg.Servers.ServerConfig(ctx, target.Local.InstanceName)
}

// =============================================================================
// History
// =============================================================================

// runHistory records one publish run. Writes use a context detached from
// cancellation so that the outcome of a cancelled run is still recorded.
// Failed stages are held back and stored together with the run outcome.
type runHistory struct {
	recorder Recorder
	logger   *slog.Logger
	runID    string
	now      func() time.Time
	failed   []*domain.StageRecord
}

func (o *Orchestrator) newRunHistory(logger *slog.Logger, runID string) *runHistory {
	return &runHistory{
		recorder: o.cfg.History,
		logger:   logger,
		runID:    runID,
		now:      o.cfg.Now,
	}
}

func (h *runHistory) create(ctx context.Context, run *domain.PublishRun) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		h.logger.Warn("failed to record publish run", "error", err)
	}
}

func (h *runHistory) stage(ctx context.Context, pkg string, stage domain.Stage, stageErr error) {
	if h.recorder == nil {
		return
	}
	rec := &domain.StageRecord{
		RunID:      h.runID,
		Package:    pkg,
		Stage:      stage,
		Status:     domain.RunStatusSucceeded,
		RecordedAt: h.now(),
	}
	if stageErr != nil {
		rec.Status = domain.RunStatusFailed
		rec.Message = stageErr.Error()
		h.failed = append(h.failed, rec)
		return
	}
	if err := h.recorder.RecordStage(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("failed to record stage", "stage", stage, "error", err)
	}
}

func (h *runHistory) finish(ctx context.Context, run *domain.PublishRun) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.CompleteRun(context.WithoutCancel(ctx), run, h.failed); err != nil {
		h.logger.Warn("failed to record publish run outcome", "error", err)
	}
}

func packageNames(pkgs []domain.Package) []string {
	names := make([]string, len(pkgs))
	for i, p := range pkgs {
		names[i] = p.Name()
	}
	return names
}
