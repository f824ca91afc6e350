package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/apppublish/internal/core/crypto"
)

// =============================================================================
// Collaborators
// =============================================================================

// TokenProvider mints bearer tokens for cloud tenants.
type TokenProvider interface {
	Renew(ctx context.Context) (accessToken string, expiry time.Time, err error)
}

// ServerConfigProvider describes a locally managed server instance.
type ServerConfigProvider interface {
	ServerConfig(ctx context.Context, instance string) (*ServerInstance, error)
}

// FileStaging copies caller supplied package sources into dir and returns the local paths,
// in the same order as sources.
type FileStaging interface {
	Stage(ctx context.Context, dir string, sources []string) ([]string, error)
}

// =============================================================================
// Server Instance
// =============================================================================

// AuthMode is the credential type a server instance accepts.
type AuthMode string

const (
	AuthModeWindows         AuthMode = "Windows"
	AuthModeNavUserPassword AuthMode = "NavUserPassword"
	AuthModeAAD             AuthMode = "AAD"
)

// ServerInstance is the descriptor returned by a ServerConfigProvider.
type ServerInstance struct {
	Name            string // Instance (container) name
	ServiceName     string // Server instance name used in dev endpoint paths
	Host            string // Host name or IP the dev endpoint is reachable on
	Running         bool   // False for files-only instances
	AuthMode        AuthMode
	DevServicesPort int
	DevEndpointTLS  bool
	MajorVersion    int
}

// =============================================================================
// Target
// =============================================================================

// TargetKind names the active target variant.
type TargetKind string

const (
	TargetLocalServer TargetKind = "local_server"
	TargetCloudTenant TargetKind = "cloud_tenant"
)

// Credential is a username with a sealed password.
type Credential struct {
	Username string
	Password *crypto.Secret
}

// LocalServer is a locally managed, container hosted server instance.
type LocalServer struct {
	InstanceName string
	Credential   *Credential // nil for Windows integrated auth
}

// CloudTenant is a remotely hosted tenant reached over HTTPS.
type CloudTenant struct {
	BaseURL     string
	TenantID    string
	Environment string
	Tokens      TokenProvider
}

// Target is a tagged union of LocalServer and CloudTenant.
// When both are set the cloud tenant is the active variant and the local
// server only describes a files-only host.
type Target struct {
	Local *LocalServer
	Cloud *CloudTenant
}

// NewLocalServerTarget creates a target for a local server instance.
func NewLocalServerTarget(instance string, cred *Credential) Target {
	return Target{Local: &LocalServer{InstanceName: instance, Credential: cred}}
}

// NewCloudTenantTarget creates a target for a cloud tenant.
func NewCloudTenantTarget(baseURL, tenantID, environment string, tokens TokenProvider) Target {
	return Target{Cloud: &CloudTenant{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		TenantID:    tenantID,
		Environment: environment,
		Tokens:      tokens,
	}}
}

// Kind returns the active variant.
func (t Target) Kind() TargetKind {
	if t.Cloud != nil {
		return TargetCloudTenant
	}
	return TargetLocalServer
}

// Validate checks that exactly one usable variant is active.
func (t Target) Validate() error {
	switch {
	case t.Cloud != nil:
		if t.Cloud.BaseURL == "" {
			return fmt.Errorf("%w: cloud tenant requires a base URL", ErrUnsupportedTarget)
		}
		if t.Cloud.Tokens == nil {
			return fmt.Errorf("%w: cloud tenant requires a token provider", ErrUnsupportedTarget)
		}
	case t.Local != nil:
		if t.Local.InstanceName == "" {
			return fmt.Errorf("%w: local server requires an instance name", ErrUnsupportedTarget)
		}
	default:
		return fmt.Errorf("%w: no target specified", ErrUnsupportedTarget)
	}
	return nil
}
