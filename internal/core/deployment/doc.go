// Package deployment provides pure functions for planning app publishes.
//
// This package contains the functional core of the publish orchestrator.
// All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Ordering: Sort a batch of packages by their dependencies (SortPackages)
//   - Planning: Decide the session lifecycle steps for a package (SessionPlan)
//   - Naming: Working area and package file names (WorkAreaName, PackageFileName)
//
// # Usage
//
// The imperative shell (internal/shell/orchestrator) uses these pure
// functions to plan a batch, then executes the plan through a transport.
//
//	ordered, err := deployment.SortPackages(packages)
//	plan := deployment.NewSessionPlan(opts).AfterExistingCheck(existing)
//	if plan.NeedsDeployedRecord() {
//	    plan = plan.ResolveInstallOrUpgrade(deployed)
//	}
package deployment
