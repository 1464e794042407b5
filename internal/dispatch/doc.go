// Package dispatch turns lifecycle notifications into export workflow runs.
//
// Each notification goes through the same pipeline:
//   - the event filter decides whether it should start an export
//   - the ledger claims the origin snapshot, so replays and concurrent
//     deliveries collapse into a single in-flight job
//   - the orchestrator drives the claimed job under the invocation budget
//   - the terminal report goes to the configured reporters
//
// HandleSNS is the Lambda entry point and runs everything inline. Runner
// serves the HTTP intake: it claims synchronously so the caller learns the
// job id, then drives the workflow in the background.
//
// Only infrastructure faults (ledger unreachable) surface as errors, so a
// failed export never causes the trigger to be redelivered.
package dispatch
