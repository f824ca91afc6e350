// Package session publishes packages through the publish agent of a running
// server instance and drives the sync, install and upgrade steps.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/artpar/apppublish/internal/core/agent"
	"github.com/artpar/apppublish/internal/core/deployment"
	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Configuration
// =============================================================================

// PathMapping translates working area paths to the path the server sees.
// Local is a directory on this host shared with the server as Remote.
type PathMapping struct {
	Local  string
	Remote string
}

// Map translates path. An empty mapping returns path unchanged.
func (m PathMapping) Map(path string) (string, error) {
	if m.Local == "" || m.Remote == "" {
		return path, nil
	}
	rel, err := filepath.Rel(m.Local, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside shared folder %s", path, m.Local)
	}

	sep := "/"
	if strings.Contains(m.Remote, `\`) {
		sep = `\`
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return strings.TrimRight(m.Remote, `/\`) + sep + strings.Join(parts, sep), nil
}

// Config configures a session transport.
type Config struct {
	ServerInstance string // Server instance (service) name
	Paths          PathMapping
}

// =============================================================================
// Transport
// =============================================================================

// Result describes what Run did for one package.
type Result struct {
	Skipped bool           // Publish skipped because the app already existed
	Stages  []domain.Stage // Completed stages, in order
}

// Transport runs the lifecycle steps of a package over an agent channel.
type Transport struct {
	channel agent.Channel
	cfg     Config
	logger  *slog.Logger
}

// New creates a session transport.
func New(channel agent.Channel, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		channel: channel,
		cfg:     cfg,
		logger:  logger.With("server_instance", cfg.ServerInstance),
	}
}

// Run publishes pkg and runs the requested sync, install and upgrade steps.
// The first failing step aborts the sequence; completed steps are not undone.
func (t *Transport) Run(ctx context.Context, pkg domain.Package, opts domain.PublishOptions) (Result, error) {
	var result Result
	opts = opts.Normalize()
	plan := deployment.NewSessionPlan(opts)
	app := agent.NewAppRef(pkg.Identity)
	logger := t.logger.With("package", pkg.Name())

	// 1. Existing app check
	if opts.IgnoreIfAppExists {
		existing, err := t.queryApp(ctx, app, opts.Tenant, opts.PackageType != domain.PackageTypeSymbolsOnly)
		if err != nil {
			return result, t.fail(domain.StageQuery, pkg, err)
		}
		plan = plan.AfterExistingCheck(existing)
		if plan.SkipPublish {
			result.Skipped = true
			logger.Info("app already exists, skipping publish", "installed", existing.IsInstalled)
		}
	}

	// 2. Publish
	if !plan.SkipPublish {
		remotePath, err := t.cfg.Paths.Map(pkg.Path)
		if err != nil {
			return result, t.fail(domain.StagePublish, pkg, err)
		}
		req := agent.PublishRequest{
			ServerInstance:           t.cfg.ServerInstance,
			Path:                     remotePath,
			PackageType:              string(opts.PackageType),
			Scope:                    string(opts.Scope),
			SkipVerification:         opts.SkipVerification,
			PublisherAzureADTenantID: opts.PublisherAzureADTenantID,
			Force:                    opts.Force,
		}
		if opts.Scope == domain.ScopeTenant {
			req.Tenant = opts.Tenant
		}
		if err := t.call(ctx, agent.CommandPublish, req, nil); err != nil {
			return result, t.fail(domain.StagePublish, pkg, err)
		}
		result.Stages = append(result.Stages, domain.StagePublish)
		logger.Info("app published", "package_type", opts.PackageType, "scope", opts.Scope)
	}

	// 3. Sync
	if plan.Sync {
		if err := t.sync(ctx, app, opts); err != nil {
			return result, t.fail(domain.StageSync, pkg, err)
		}
		result.Stages = append(result.Stages, domain.StageSync)
		logger.Info("app synchronized", "tenant", opts.Tenant, "mode", opts.SyncMode)
	}

	// 4. Install or upgrade
	if plan.NeedsDeployedRecord() {
		deployed, err := t.queryApp(ctx, app, opts.Tenant, true)
		if err != nil {
			return result, t.fail(domain.StageQuery, pkg, err)
		}
		if deployed == nil {
			return result, t.fail(domain.StageQuery, pkg, &domain.RemoteError{
				Step:    string(agent.CommandQueryApp),
				Code:    agent.ErrCodeNotFound,
				Message: fmt.Sprintf("%s is not published on tenant %s", pkg.Name(), opts.Tenant),
			})
		}
		plan = plan.ResolveInstallOrUpgrade(*deployed)
		logger.Debug("install or upgrade resolved",
			"version", deployed.Version,
			"extension_data_version", deployed.ExtensionDataVersion,
			"install", plan.Install,
			"upgrade", plan.Upgrade,
		)
	}

	// 5. Install
	if plan.Install {
		req := agent.InstallRequest{
			ServerInstance: t.cfg.ServerInstance,
			App:            app,
			Tenant:         opts.Tenant,
			Language:       opts.Language,
		}
		if err := t.call(ctx, agent.CommandInstall, req, nil); err != nil {
			return result, t.fail(domain.StageInstall, pkg, err)
		}
		result.Stages = append(result.Stages, domain.StageInstall)
		logger.Info("app installed", "tenant", opts.Tenant)
	}

	// 6. Upgrade
	if plan.Upgrade {
		req := agent.UpgradeRequest{
			ServerInstance: t.cfg.ServerInstance,
			App:            app,
			Tenant:         opts.Tenant,
			Language:       opts.Language,
		}
		if err := t.call(ctx, agent.CommandUpgrade, req, nil); err != nil {
			return result, t.fail(domain.StageUpgrade, pkg, err)
		}
		result.Stages = append(result.Stages, domain.StageUpgrade)
		logger.Info("app upgraded", "tenant", opts.Tenant)
	}

	return result, nil
}

// sync force-synchronizes the tenant, then the app. Warnings are dropped.
func (t *Transport) sync(ctx context.Context, app agent.AppRef, opts domain.PublishOptions) error {
	tenantReq := agent.SyncTenantRequest{
		ServerInstance: t.cfg.ServerInstance,
		Tenant:         opts.Tenant,
		Force:          true,
	}
	if err := t.callAllowWarning(ctx, agent.CommandSyncTenant, tenantReq); err != nil {
		return err
	}

	appReq := agent.SyncAppRequest{
		ServerInstance: t.cfg.ServerInstance,
		App:            app,
		Tenant:         opts.Tenant,
		Mode:           string(opts.SyncMode),
	}
	return t.callAllowWarning(ctx, agent.CommandSyncApp, appReq)
}

// queryApp returns the deployed record, or nil when the app is not published.
func (t *Transport) queryApp(ctx context.Context, app agent.AppRef, tenant string, tenantSpecific bool) (*domain.DeployedApp, error) {
	req := agent.QueryAppRequest{
		ServerInstance: t.cfg.ServerInstance,
		App:            app,
		TenantSpecific: tenantSpecific,
	}
	if tenantSpecific {
		req.Tenant = tenant
	}

	var res agent.QueryAppResult
	if err := t.call(ctx, agent.CommandQueryApp, req, &res); err != nil {
		return nil, err
	}
	if !res.Found || res.App == nil {
		return nil, nil
	}
	deployed, err := res.App.Deployed()
	if err != nil {
		return nil, &domain.RemoteError{Step: string(agent.CommandQueryApp), Code: agent.ErrCodeInternal, Message: err.Error()}
	}
	return &deployed, nil
}

// =============================================================================
// Channel Helpers
// =============================================================================

func (t *Transport) execute(ctx context.Context, command agent.Command, req any) (*agent.Response, error) {
	resp, err := t.channel.Execute(ctx, command, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.RemoteError{Step: string(command), Code: agent.ErrCodeConnectionFailed, Message: err.Error()}
	}
	return resp, nil
}

func (t *Transport) call(ctx context.Context, command agent.Command, req any, out any) error {
	resp, err := t.execute(ctx, command, req)
	if err != nil {
		return err
	}
	if err := resp.Err(string(command)); err != nil {
		return err
	}
	if out != nil {
		if err := resp.UnmarshalData(out); err != nil {
			return &domain.RemoteError{Step: string(command), Code: agent.ErrCodeInternal, Message: "unmarshal result: " + err.Error()}
		}
	}
	return nil
}

func (t *Transport) callAllowWarning(ctx context.Context, command agent.Command, req any) error {
	resp, err := t.execute(ctx, command, req)
	if err != nil {
		return err
	}
	if resp.IsWarning() {
		t.logger.Debug("ignoring agent warning", "command", command, "message", resp.Error.Message)
		return nil
	}
	return resp.Err(string(command))
}

func (t *Transport) fail(stage domain.Stage, pkg domain.Package, err error) error {
	t.logger.Error("session step failed", "package", pkg.Name(), "stage", stage, "error", err)
	return domain.NewPublishError(stage, pkg.Name(), "", err)
}
