// Package domain holds the calt entities and their lifecycle rules.
//
// Nothing in this package performs I/O. Sessions, plan versions, steps,
// approvals, runs, events and artifacts are plain values; the transition
// functions decide whether a requested change is legal and return a
// state-conflict error otherwise. Storage and orchestration live in
// internal/store and internal/engine.
//
// # Session lifecycle
//
//	created ─► awaiting_plan_approval ─► awaiting_step_approval ─► running
//	                    ▲                          ▲                 │
//	                    │                          └──── step ok ────┤
//	                    └──── replan (import) ◄── failed ◄── error ──┤
//	                                                                 └─► succeeded
//
// Any non-terminal status may move to cancelled via stop.
//
// # Step lifecycle
//
//	pending ─► approved ─► running ─► {succeeded, failed}
//	pending|approved ─► skipped
package domain
