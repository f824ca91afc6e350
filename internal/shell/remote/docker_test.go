package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/artpar/apppublish/internal/core/agent"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Docker Exec API
// =============================================================================

type fakeExecAPI struct {
	createErr error
	options   container.ExecOptions
	container string
	input     map[string]any
	stdout    string
	stderr    string
	exitCode  int
}

func (f *fakeExecAPI) ContainerExecCreate(_ context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	if f.createErr != nil {
		return container.ExecCreateResponse{}, f.createErr
	}
	f.container = containerID
	f.options = options
	return container.ExecCreateResponse{ID: "exec1"}, nil
}

func (f *fakeExecAPI) ContainerExecAttach(_ context.Context, _ string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()

	go func() {
		defer server.Close()
		if f.options.AttachStdin {
			if err := json.NewDecoder(server).Decode(&f.input); err != nil {
				return
			}
		}
		if f.stderr != "" {
			stdcopy.NewStdWriter(server, stdcopy.Stderr).Write([]byte(f.stderr))
		}
		stdcopy.NewStdWriter(server, stdcopy.Stdout).Write([]byte(f.stdout))
	}()

	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (f *fakeExecAPI) ContainerExecInspect(context.Context, string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: "exec1", ExitCode: f.exitCode}, nil
}

// =============================================================================
// DockerExecChannel Tests
// =============================================================================

func TestDockerExecChannel_Execute(t *testing.T) {
	api := &fakeExecAPI{stdout: `{"success":true,"data":{"found":false}}`}
	ch := NewDockerExecChannel(api, "bcserver", "")

	resp, err := ch.Execute(context.Background(), agent.CommandQueryApp, agent.QueryAppRequest{
		ServerInstance: "BC",
		App:            agent.AppRef{Publisher: "Contoso", Name: "Sales"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	var res agent.QueryAppResult
	require.NoError(t, resp.UnmarshalData(&res))
	assert.False(t, res.Found)

	assert.Equal(t, "bcserver", api.container)
	assert.Equal(t, []string{DefaultAgentPath, "query-app"}, []string(api.options.Cmd))
	assert.True(t, api.options.AttachStdin)
	assert.Equal(t, "BC", api.input["server_instance"])
}

func TestDockerExecChannel_ErrorEnvelopeOnNonZeroExit(t *testing.T) {
	api := &fakeExecAPI{
		stdout:   `{"success":false,"error":{"command":"install-app","code":"install_failed","message":"missing dependency"}}`,
		exitCode: 1,
	}
	ch := NewDockerExecChannel(api, "bcserver", "/opt/agent")

	resp, err := ch.Execute(context.Background(), agent.CommandInstall, agent.InstallRequest{ServerInstance: "BC"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "missing dependency", resp.Error.Message)
	assert.Equal(t, "/opt/agent", api.options.Cmd[0])
}

func TestDockerExecChannel_CrashReportsStderr(t *testing.T) {
	api := &fakeExecAPI{stderr: "agent: not found", exitCode: 127}
	ch := NewDockerExecChannel(api, "bcserver", "")

	_, err := ch.Execute(context.Background(), agent.CommandPublish, agent.PublishRequest{ServerInstance: "BC"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 127")
	assert.Contains(t, err.Error(), "agent: not found")
}

func TestDockerExecChannel_CreateFails(t *testing.T) {
	api := &fakeExecAPI{createErr: errors.New("container is not running")}
	ch := NewDockerExecChannel(api, "bcserver", "")

	_, err := ch.Execute(context.Background(), agent.CommandPublish, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bcserver")
}

func TestDockerExecChannel_NoInput(t *testing.T) {
	api := &fakeExecAPI{stdout: `{"success":true,"data":{"version":"1.0.0","server_major":24}}`}
	ch := NewDockerExecChannel(api, "bcserver", "")

	resp, err := ch.Execute(context.Background(), agent.CommandVersion, nil)
	require.NoError(t, err)
	assert.False(t, api.options.AttachStdin)

	var info agent.VersionInfo
	require.NoError(t, resp.UnmarshalData(&info))
	assert.Equal(t, 24, info.ServerMajor)
}
