package deployment

import "github.com/artpar/apppublish/internal/core/domain"

// =============================================================================
// Session Lifecycle Planning
// =============================================================================

// SessionPlan is the set of lifecycle steps to run for one package on a
// session transport. It starts from the requested flags and is narrowed as
// the server's state becomes known.
type SessionPlan struct {
	SkipPublish bool
	Sync        bool
	Install     bool
	Upgrade     bool
}

// NewSessionPlan returns the plan implied by the publish options alone.
func NewSessionPlan(opts domain.PublishOptions) SessionPlan {
	return SessionPlan{
		Sync:    opts.Sync,
		Install: opts.Install,
		Upgrade: opts.Upgrade,
	}
}

// AfterExistingCheck narrows the plan once the server reported whether the
// exact app version already exists. existing is nil when it does not.
//
//   - exists: publish is skipped
//   - exists and installed: install is skipped as well
func (p SessionPlan) AfterExistingCheck(existing *domain.DeployedApp) SessionPlan {
	if existing == nil {
		return p
	}
	p.SkipPublish = true
	if existing.IsInstalled {
		p.Install = false
	}
	return p
}

// NeedsDeployedRecord reports whether the install-versus-upgrade decision
// requires the server's deployed record.
func (p SessionPlan) NeedsDeployedRecord() bool {
	return p.Install && p.Upgrade
}

// ResolveInstallOrUpgrade settles a request for both install and upgrade.
//
// When the applied data version equals the package version no upgrade is
// pending: the upgrade step is dropped and the app is installed. Otherwise the
// app is upgraded and install is dropped, since an app mid-upgrade is not
// separately installed.
//
// Example:
//
//	plan := NewSessionPlan(opts)
//	if plan.NeedsDeployedRecord() {
//	    plan = plan.ResolveInstallOrUpgrade(deployed)
//	}
func (p SessionPlan) ResolveInstallOrUpgrade(deployed domain.DeployedApp) SessionPlan {
	if !p.NeedsDeployedRecord() {
		return p
	}
	if deployed.UpgradePending() {
		p.Install = false
	} else {
		p.Upgrade = false
	}
	return p
}
