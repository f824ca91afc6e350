package domain

import "time"

// DeployedApp is the server's view of a published app.
type DeployedApp struct {
	Identity             AppIdentity
	IsPublished          bool
	IsInstalled          bool
	Version              Version // Version of the package record
	ExtensionDataVersion Version // Schema version applied to the tenant's data
}

// UpgradePending reports whether the applied data version lags the package version.
// This is the only signal used to choose between install and upgrade.
func (d DeployedApp) UpgradePending() bool {
	return !d.ExtensionDataVersion.Equal(d.Version)
}

// TransportKind is the chosen publish transport.
type TransportKind string

const (
	TransportSession TransportKind = "session"
	TransportHTTP    TransportKind = "http"
)

// Confirmation is emitted for every successfully published package.
type Confirmation struct {
	Package     AppIdentity
	Transport   TransportKind
	Skipped     bool    // Publish skipped because the app already existed
	Stages      []Stage // Stages completed, in order
	PublishedAt time.Time
}
