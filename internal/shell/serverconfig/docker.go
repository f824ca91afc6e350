// Package serverconfig describes local server instances for the orchestrator.
package serverconfig

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Provider
// =============================================================================

// Container conventions of server images.
const (
	LabelVersion       = "version"        // Platform version, e.g. 24.1.18927.0
	LabelServiceName   = "serverinstance" // Optional, defaults to DefaultServiceName
	EnvAuth            = "auth"
	EnvUseSSL          = "usessl"
	DefaultServiceName = "BC"
	DevServicesPort    = 7049
)

// InspectAPI is the part of the Docker client the provider uses.
type InspectAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// DockerProvider reads server instance descriptors from server containers.
type DockerProvider struct {
	api InspectAPI
	// UsePublishedPorts addresses the dev endpoint through the port published
	// on the docker host instead of the container name.
	UsePublishedPorts bool
	logger            *slog.Logger
}

// NewDockerProvider creates a provider backed by the Docker API.
func NewDockerProvider(api InspectAPI, usePublishedPorts bool, logger *slog.Logger) *DockerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerProvider{api: api, UsePublishedPorts: usePublishedPorts, logger: logger}
}

// ServerConfig inspects the container named instance.
func (p *DockerProvider) ServerConfig(ctx context.Context, instance string) (*domain.ServerInstance, error) {
	inspect, err := p.api.ContainerInspect(ctx, instance)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: container %s not found", domain.ErrUnsupportedTarget, instance)
		}
		return nil, fmt.Errorf("inspect container %s: %w", instance, err)
	}

	server := describeContainer(inspect, p.UsePublishedPorts)
	if server.Name == "" {
		server.Name = instance
		if server.Host == "" {
			server.Host = instance
		}
	}
	p.logger.Debug("server instance described",
		"instance", server.Name,
		"running", server.Running,
		"auth", server.AuthMode,
		"major_version", server.MajorVersion,
		"dev_endpoint", fmt.Sprintf("%s:%d", server.Host, server.DevServicesPort),
	)
	return server, nil
}

// describeContainer builds a descriptor from an inspect result.
func describeContainer(inspect container.InspectResponse, usePublishedPorts bool) *domain.ServerInstance {
	server := &domain.ServerInstance{
		ServiceName:     DefaultServiceName,
		AuthMode:        domain.AuthModeWindows,
		DevServicesPort: DevServicesPort,
	}

	if inspect.ContainerJSONBase != nil {
		server.Name = strings.TrimPrefix(inspect.Name, "/")
		server.Host = server.Name
		if inspect.State != nil {
			server.Running = inspect.State.Running
		}
	}

	if cfg := inspect.Config; cfg != nil {
		if v := cfg.Labels[LabelVersion]; v != "" {
			server.MajorVersion = majorVersion(v)
		}
		if s := cfg.Labels[LabelServiceName]; s != "" {
			server.ServiceName = s
		}
		env := parseEnv(cfg.Env)
		if auth := env[EnvAuth]; auth != "" {
			server.AuthMode = authMode(auth)
		}
		server.DevEndpointTLS = strings.EqualFold(env[EnvUseSSL], "y") || strings.EqualFold(env[EnvUseSSL], "true")
	}

	if usePublishedPorts && inspect.NetworkSettings != nil {
		port := nat.Port(strconv.Itoa(DevServicesPort) + "/tcp")
		for _, binding := range inspect.NetworkSettings.Ports[port] {
			hostPort, err := strconv.Atoi(binding.HostPort)
			if err != nil || hostPort == 0 {
				continue
			}
			server.DevServicesPort = hostPort
			server.Host = binding.HostIP
			if server.Host == "" || server.Host == "0.0.0.0" || server.Host == "::" {
				server.Host = "localhost"
			}
			break
		}
	}

	return server
}

func parseEnv(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

func majorVersion(v string) int {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

func authMode(s string) domain.AuthMode {
	switch strings.ToLower(s) {
	case "navuserpassword", "userpassword":
		return domain.AuthModeNavUserPassword
	case "aad":
		return domain.AuthModeAAD
	default:
		return domain.AuthModeWindows
	}
}
