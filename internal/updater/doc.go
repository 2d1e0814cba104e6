// Package updater sequences the update pipeline for one installed project:
// list candidates, filter them by policy, fetch the preferred one, verify
// its signature, corroborate it against the ledger quorum, and apply it.
//
// Every stage is a gate. A negative outcome ends the pipeline with false
// and leaves the installation untouched; only misconfiguration, network
// failures while listing or fetching, and filesystem failures are errors.
//
// Updater does not serialize concurrent runs against the same
// installation. Callers hold apply.Applier.Lock around AutoUpdate.
package updater
