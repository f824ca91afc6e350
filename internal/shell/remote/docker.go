package remote

import (
	"bytes"
	"context"
	"fmt"

	"github.com/artpar/apppublish/internal/core/agent"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// =============================================================================
// Docker Exec Channel
// =============================================================================

// ExecAPI is the part of the Docker client the exec channel uses.
type ExecAPI interface {
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// DockerExecChannel runs agent commands with docker exec inside the server container.
type DockerExecChannel struct {
	api       ExecAPI
	container string
	agentPath string
}

// NewDockerExecChannel creates an exec channel for a container.
func NewDockerExecChannel(api ExecAPI, containerName, agentPath string) *DockerExecChannel {
	if agentPath == "" {
		agentPath = DefaultAgentPath
	}
	return &DockerExecChannel{api: api, container: containerName, agentPath: agentPath}
}

// NewDockerClient creates a Docker client from the environment.
// If host is empty, it uses the default Docker host.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Execute runs one agent command in the container.
func (c *DockerExecChannel) Execute(ctx context.Context, command agent.Command, request any) (*agent.Response, error) {
	input, err := encodeRequest(request)
	if err != nil {
		return nil, err
	}

	created, err := c.api.ContainerExecCreate(ctx, c.container, container.ExecOptions{
		Cmd:          []string{c.agentPath, string(command)},
		AttachStdin:  input != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("container %s not found: %w", c.container, err)
		}
		return nil, fmt.Errorf("create exec in %s: %w", c.container, err)
	}

	attached, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec %s: %w", created.ID, err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		if input != nil {
			if _, err := attached.Conn.Write(input); err != nil {
				done <- fmt.Errorf("write input: %w", err)
				return
			}
			attached.CloseWrite()
		}
		_, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		attached.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	}

	var runErr error
	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		runErr = fmt.Errorf("inspect exec: %w", err)
	} else if inspect.ExitCode != 0 {
		runErr = fmt.Errorf("exit code %d", inspect.ExitCode)
	}
	return decode(command, stdout.Bytes(), stderr.Bytes(), runErr)
}
