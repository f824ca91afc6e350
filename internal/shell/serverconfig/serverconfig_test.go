package serverconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Docker Provider Tests
// =============================================================================

type fakeInspect struct {
	resp container.InspectResponse
	err  error
	ids  []string
}

func (f *fakeInspect) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	f.ids = append(f.ids, id)
	return f.resp, f.err
}

func bcContainer(running bool) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			Name:  "/bcserver",
			State: &container.State{Running: running},
		},
		Config: &container.Config{
			Labels: map[string]string{"version": "24.1.18927.0"},
			Env:    []string{"auth=NavUserPassword", "usessl=N", "accept_eula=Y"},
		},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{
					"7049/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "17049"}},
				},
			},
		},
	}
}

func TestDockerProvider_ServerConfig(t *testing.T) {
	api := &fakeInspect{resp: bcContainer(true)}
	p := NewDockerProvider(api, false, nil)

	server, err := p.ServerConfig(context.Background(), "bcserver")
	require.NoError(t, err)

	assert.Equal(t, []string{"bcserver"}, api.ids)
	assert.Equal(t, "bcserver", server.Name)
	assert.Equal(t, "bcserver", server.Host)
	assert.Equal(t, "BC", server.ServiceName)
	assert.True(t, server.Running)
	assert.Equal(t, domain.AuthModeNavUserPassword, server.AuthMode)
	assert.Equal(t, 7049, server.DevServicesPort)
	assert.False(t, server.DevEndpointTLS)
	assert.Equal(t, 24, server.MajorVersion)
}

func TestDockerProvider_PublishedPort(t *testing.T) {
	p := NewDockerProvider(&fakeInspect{resp: bcContainer(true)}, true, nil)

	server, err := p.ServerConfig(context.Background(), "bcserver")
	require.NoError(t, err)
	assert.Equal(t, "localhost", server.Host)
	assert.Equal(t, 17049, server.DevServicesPort)
}

func TestDockerProvider_StoppedContainer(t *testing.T) {
	p := NewDockerProvider(&fakeInspect{resp: bcContainer(false)}, false, nil)

	server, err := p.ServerConfig(context.Background(), "bcserver")
	require.NoError(t, err)
	assert.False(t, server.Running)
}

func TestDockerProvider_InspectFails(t *testing.T) {
	p := NewDockerProvider(&fakeInspect{err: errors.New("daemon unavailable")}, false, nil)

	_, err := p.ServerConfig(context.Background(), "bcserver")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unavailable")
}

func TestDescribeContainer_Defaults(t *testing.T) {
	server := describeContainer(container.InspectResponse{}, true)
	assert.Equal(t, DefaultServiceName, server.ServiceName)
	assert.Equal(t, domain.AuthModeWindows, server.AuthMode)
	assert.Equal(t, DevServicesPort, server.DevServicesPort)
	assert.False(t, server.Running)
}

func TestDescribeContainer_SSLAndServiceLabel(t *testing.T) {
	inspect := bcContainer(true)
	inspect.Config.Env = []string{"USESSL=Y", "auth=AAD"}
	inspect.Config.Labels[LabelServiceName] = "NAV"

	server := describeContainer(inspect, false)
	assert.True(t, server.DevEndpointTLS)
	assert.Equal(t, domain.AuthModeAAD, server.AuthMode)
	assert.Equal(t, "NAV", server.ServiceName)
}

func TestMajorVersion(t *testing.T) {
	assert.Equal(t, 24, majorVersion("24.1.18927.0"))
	assert.Equal(t, 0, majorVersion("latest"))
}

// =============================================================================
// File Provider Tests
// =============================================================================

const descriptorYAML = `
instances:
  BCServer:
    service_name: BC
    host: 10.0.0.5
    auth_mode: NavUserPassword
    dev_services_port: 7149
    dev_endpoint_tls: true
    major_version: 23
  filesonly:
    running: false
`

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(descriptorYAML), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)

	server, err := p.ServerConfig(context.Background(), "bcserver")
	require.NoError(t, err)
	assert.Equal(t, "BCServer", server.Name)
	assert.Equal(t, "10.0.0.5", server.Host)
	assert.True(t, server.Running)
	assert.Equal(t, domain.AuthModeNavUserPassword, server.AuthMode)
	assert.Equal(t, 7149, server.DevServicesPort)
	assert.True(t, server.DevEndpointTLS)
	assert.Equal(t, 23, server.MajorVersion)

	files, err := p.ServerConfig(context.Background(), "filesonly")
	require.NoError(t, err)
	assert.False(t, files.Running)
	assert.Equal(t, "filesonly", files.Host)
	assert.Equal(t, DevServicesPort, files.DevServicesPort)

	_, err = p.ServerConfig(context.Background(), "other")
	assert.ErrorIs(t, err, domain.ErrUnsupportedTarget)
}

func TestFileProvider_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseFile([]byte("instances: [1, 2"))
	assert.Error(t, err)
}
