package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/artpar/apppublish/internal/shell/orchestrator"
	"github.com/artpar/apppublish/internal/shell/remote"
	"github.com/artpar/apppublish/internal/shell/serverconfig"
	"github.com/artpar/apppublish/internal/shell/session"
	"github.com/artpar/apppublish/internal/shell/store"
	"github.com/docker/docker/client"
	"github.com/spf13/cobra"
)

func newPublishCmd(load func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <package|folder>...",
		Short: "Publish packages in dependency order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runPublish(ctx, cfg, SetupLogger(cfg), args, cmd.OutOrStdout())
		},
	}
}

func runPublish(ctx context.Context, cfg *Config, logger *slog.Logger, sources []string, out io.Writer) error {
	target, err := cfg.BuildTarget()
	if err != nil {
		return err
	}
	opts, err := cfg.PublishOptions()
	if err != nil {
		return err
	}

	deps, err := wire(cfg, target, opts, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	o := orchestrator.New(deps.config)
	res, err := o.Publish(ctx, orchestrator.Request{
		Target:  target,
		Sources: sources,
		Options: opts,
		OnPublished: func(c domain.Confirmation) {
			status := "published"
			if c.Skipped {
				status = "already published"
			}
			fmt.Fprintf(out, "%s %s via %s %v\n", status, c.Package, c.Transport, c.Stages)
		},
	})
	if err != nil {
		if len(res.Confirmations) > 0 {
			fmt.Fprintf(out, "run %s failed after %d package(s)\n", res.RunID, len(res.Confirmations))
		}
		return err
	}
	fmt.Fprintf(out, "run %s published %d package(s)\n", res.RunID, len(res.Confirmations))
	return nil
}

// =============================================================================
// Wiring
// =============================================================================

type dependencies struct {
	config  orchestrator.Config
	closers []io.Closer
}

func (d *dependencies) close(logger *slog.Logger) {
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}

func wire(cfg *Config, target domain.Target, opts domain.PublishOptions, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{config: orchestrator.Config{
		WorkDir: cfg.WorkDir,
		Logger:  logger,
		Paths: session.PathMapping{
			Local:  cfg.Session.SharedLocal,
			Remote: cfg.Session.SharedRemote,
		},
	}}
	// With a shared folder the working area must live inside it
	if cfg.WorkDir == "" && cfg.Session.SharedLocal != "" {
		deps.config.WorkDir = cfg.Session.SharedLocal
	}

	var dockerClient *client.Client
	docker := func() (*client.Client, error) {
		if dockerClient != nil {
			return dockerClient, nil
		}
		cli, err := remote.NewDockerClient(cfg.Server.DockerHost)
		if err != nil {
			return nil, err
		}
		dockerClient = cli
		deps.closers = append(deps.closers, cli)
		return cli, nil
	}

	fail := func(err error) (*dependencies, error) {
		deps.close(logger)
		return nil, err
	}

	if target.Kind() == domain.TargetLocalServer {
		switch cfg.Server.Provider {
		case "file":
			provider, err := serverconfig.LoadFile(cfg.Server.File)
			if err != nil {
				return fail(err)
			}
			deps.config.Servers = provider
		case "docker", "":
			cli, err := docker()
			if err != nil {
				return fail(err)
			}
			deps.config.Servers = serverconfig.NewDockerProvider(cli, cfg.Server.UsePublishedPorts, logger)
		default:
			return fail(fmt.Errorf("unknown server provider %q", cfg.Server.Provider))
		}

		if !opts.UseDevEndpoint {
			switch cfg.Session.Channel {
			case "ssh":
				key, err := os.ReadFile(cfg.Session.SSH.KeyFile)
				if err != nil {
					return fail(fmt.Errorf("read ssh key: %w", err))
				}
				ch, err := remote.NewSSHChannel(remote.SSHConfig{
					Host:           cfg.Session.SSH.Host,
					Port:           cfg.Session.SSH.Port,
					User:           cfg.Session.SSH.User,
					PrivateKey:     key,
					HostKey:        cfg.Session.SSH.HostKey,
					AgentPath:      cfg.Session.AgentPath,
					ConnectTimeout: cfg.Session.SSH.ConnectTimeout,
					Logger:         logger,
				})
				if err != nil {
					return fail(err)
				}
				deps.closers = append(deps.closers, ch)
				deps.config.Channel = ch
			case "docker", "":
				cli, err := docker()
				if err != nil {
					return fail(err)
				}
				container := cfg.Session.Container
				if container == "" {
					container = cfg.Server.Instance
				}
				deps.config.Channel = remote.NewDockerExecChannel(cli, container, cfg.Session.AgentPath)
			default:
				return fail(fmt.Errorf("unknown session channel %q", cfg.Session.Channel))
			}
		}
	}

	if cfg.History.Enabled {
		history, err := openHistory(cfg.History.DSN)
		if err != nil {
			return fail(err)
		}
		deps.closers = append(deps.closers, history)
		deps.config.History = history
	}

	return deps, nil
}

func openHistory(dsn string) (*store.SQLiteStore, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	return store.NewSQLiteStore(dsn)
}
