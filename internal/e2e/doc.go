// Package e2e drives whole export scenarios through the real dispatcher,
// ledger, orchestrator and reporters against the in-memory control plane.
package e2e
