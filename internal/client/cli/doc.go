// Package cli implements syncctl, the operator command line for the sync
// server.
//
// Commands:
//   - login / logout: open or end a session; the token is kept in the config file
//   - trigger: start a run, optionally waiting for it to finish
//   - status: current run, last finished run and watermarks
//   - history / logs: past runs and their per-phase logs
//   - abort: cancel the current run
//
// Build the command tree with NewRootCmd and run it with ExecuteContext.
package cli
