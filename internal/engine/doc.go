// Package engine runs calt sessions: plan import, approvals, gated step
// execution and the audit trail around them.
//
// ARCHITECTURE:
//
// Every operation that can move a session (import, approve, skip, execute)
// holds that session's mutex for its whole duration, so at most one step of
// a session is in flight. Stop does not take the mutex: it must be able to
// cancel a session whose step is still running.
//
// Step Execution Flow:
//  1. Look up the step in the latest plan version and check declared order
//  2. Resolve ${steps.<id>.output...} references against earlier outputs
//  3. Ask the safety gate; a denial is recorded as step_rejected
//  4. Mark step and session running (one transaction)
//  5. Validate inputs, dispatch the tool under min(step, tool) timeout
//  6. Run the step verification against the output
//  7. Write artifacts, then record run, artifacts, events and the new
//     step and session status in one transaction
//
// A process that dies between 4 and 7 leaves a running step behind.
// Recover turns those into failed runs of kind "interrupted" at startup.
//
// Storage assigns event seq numbers; the engine never orders by wall time.
package engine
