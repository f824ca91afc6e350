// Package agent defines the protocol spoken with the publish agent that runs
// next to a server instance.
//
// The agent executes one lifecycle operation per invocation. The request is
// written as JSON to its stdin and the result is read as JSON from its stdout,
// whichever channel carries the bytes (SSH exec or docker exec).
//
// This package contains pure types with no I/O.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Version Info
// =============================================================================

// Version is the current agent protocol version.
// Bump MAJOR for breaking changes, MINOR for new commands, PATCH for fixes.
const Version = "1.0.0"

// =============================================================================
// Commands
// =============================================================================

// Command is the name of a remote operation.
type Command string

const (
	CommandVersion    Command = "version"
	CommandQueryApp   Command = "query-app"
	CommandPublish    Command = "publish-app"
	CommandSyncTenant Command = "sync-tenant"
	CommandSyncApp    Command = "sync-app"
	CommandInstall    Command = "install-app"
	CommandUpgrade    Command = "upgrade-app"
)

// Channel executes agent commands against a server instance.
type Channel interface {
	Execute(ctx context.Context, command Command, request any) (*Response, error)
}

// =============================================================================
// Response Envelope
// =============================================================================

// Response is the envelope every agent command writes to stdout.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo contains error details when Success is false.
type ErrorInfo struct {
	Command string `json:"command"`        // Command that failed
	Code    string `json:"code,omitempty"` // Error code (e.g., "not_found")
	Message string `json:"message"`        // Human-readable error message
}

// NewSuccessResponse creates a successful response with data.
func NewSuccessResponse(data any) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		rawData = bytes
	}
	return &Response{Success: true, Data: rawData}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(command Command, code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorInfo{
			Command: string(command),
			Code:    code,
			Message: message,
		},
	}
}

// ParseResponse parses a JSON response from the agent.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !resp.Success && resp.Error == nil {
		return nil, fmt.Errorf("parse response: failure without error details")
	}
	return &resp, nil
}

// UnmarshalData unmarshals the response data into the target type.
func (r *Response) UnmarshalData(target any) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, target)
}

// IsWarning reports whether the response is a failure the agent flagged as non-fatal.
func (r *Response) IsWarning() bool {
	return !r.Success && r.Error != nil && r.Error.Code == ErrCodeWarning
}

// Err converts a failed response into a *domain.RemoteError for step.
// It returns nil for a successful response.
func (r *Response) Err(step string) error {
	if r.Success {
		return nil
	}
	code, message := ErrCodeInternal, "unknown agent failure"
	if r.Error != nil {
		code, message = r.Error.Code, r.Error.Message
	}
	return &domain.RemoteError{Step: step, Code: code, Message: message}
}

// =============================================================================
// Error Codes
// =============================================================================

// Standard error codes for agent responses.
const (
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeNotRunning       = "not_running"
	ErrCodeInvalidInput     = "invalid_input"
	ErrCodeConnectionFailed = "connection_failed"
	ErrCodeTimeout          = "timeout"
	ErrCodePublishFailed    = "publish_failed"
	ErrCodeSyncFailed       = "sync_failed"
	ErrCodeInstallFailed    = "install_failed"
	ErrCodeUpgradeFailed    = "upgrade_failed"
	ErrCodeWarning          = "warning"
	ErrCodeInternal         = "internal"
)

// =============================================================================
// Requests
// =============================================================================

// AppRef identifies an app on the server.
type AppRef struct {
	Publisher string `json:"publisher"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
}

// NewAppRef creates a reference from an app identity.
func NewAppRef(id domain.AppIdentity) AppRef {
	ref := AppRef{Publisher: id.Publisher, Name: id.Name}
	if !id.Version.IsZero() {
		ref.Version = id.Version.String()
	}
	return ref
}

// QueryAppRequest asks for the deployed record of an app.
type QueryAppRequest struct {
	ServerInstance string `json:"server_instance"`
	App            AppRef `json:"app"`
	Tenant         string `json:"tenant,omitempty"`
	TenantSpecific bool   `json:"tenant_specific"`
}

// PublishRequest publishes a package file that is visible to the server.
type PublishRequest struct {
	ServerInstance           string `json:"server_instance"`
	Path                     string `json:"path"`
	PackageType              string `json:"package_type"`
	Scope                    string `json:"scope,omitempty"`
	Tenant                   string `json:"tenant,omitempty"`
	SkipVerification         bool   `json:"skip_verification,omitempty"`
	PublisherAzureADTenantID string `json:"publisher_azure_ad_tenant_id,omitempty"`
	Force                    bool   `json:"force,omitempty"`
}

// SyncTenantRequest synchronizes the tenant with the application database.
type SyncTenantRequest struct {
	ServerInstance string `json:"server_instance"`
	Tenant         string `json:"tenant"`
	Force          bool   `json:"force"`
}

// SyncAppRequest synchronizes the schema of a published app.
type SyncAppRequest struct {
	ServerInstance string `json:"server_instance"`
	App            AppRef `json:"app"`
	Tenant         string `json:"tenant"`
	Mode           string `json:"mode,omitempty"`
}

// InstallRequest installs a published app on a tenant.
type InstallRequest struct {
	ServerInstance string `json:"server_instance"`
	App            AppRef `json:"app"`
	Tenant         string `json:"tenant"`
	Language       string `json:"language,omitempty"`
}

// UpgradeRequest runs the data upgrade of a published app on a tenant.
type UpgradeRequest struct {
	ServerInstance string `json:"server_instance"`
	App            AppRef `json:"app"`
	Tenant         string `json:"tenant"`
	Language       string `json:"language,omitempty"`
}

// =============================================================================
// Command Result Types
// =============================================================================

// VersionInfo is returned by the "version" command.
type VersionInfo struct {
	Version      string `json:"version"`
	ServerMajor  int    `json:"server_major"`
	ServerBuild  string `json:"server_build,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
}

// AppRecord is the server's record of a published app.
type AppRecord struct {
	ID                   string `json:"id"`
	Publisher            string `json:"publisher"`
	Name                 string `json:"name"`
	Version              string `json:"version"`
	IsPublished          bool   `json:"is_published"`
	IsInstalled          bool   `json:"is_installed"`
	ExtensionDataVersion string `json:"extension_data_version,omitempty"`
}

// QueryAppResult is returned by the "query-app" command.
type QueryAppResult struct {
	Found bool       `json:"found"`
	App   *AppRecord `json:"app,omitempty"`
}

// Deployed converts the record to the domain view.
// A missing data version means no data has been applied yet.
func (r AppRecord) Deployed() (domain.DeployedApp, error) {
	v, err := domain.ParseVersion(r.Version)
	if err != nil {
		return domain.DeployedApp{}, fmt.Errorf("app %s version: %w", r.Name, err)
	}

	var dataVersion domain.Version
	if r.ExtensionDataVersion != "" {
		dataVersion, err = domain.ParseVersion(r.ExtensionDataVersion)
		if err != nil {
			return domain.DeployedApp{}, fmt.Errorf("app %s data version: %w", r.Name, err)
		}
	}

	return domain.DeployedApp{
		Identity: domain.AppIdentity{
			ID:        r.ID,
			Publisher: r.Publisher,
			Name:      r.Name,
			Version:   v,
		},
		IsPublished:          r.IsPublished,
		IsInstalled:          r.IsInstalled,
		Version:              v,
		ExtensionDataVersion: dataVersion,
	}, nil
}
