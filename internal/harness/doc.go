// Package harness runs end-to-end session scenarios against a real engine.
//
// Each scenario gets a fresh in-memory database, a temporary data root, a
// fixed clock and sequential IDs, so the recorded event trace is identical
// across runs and can be compared with a golden file.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: two_phase_apply
//	description: "A destructive write runs only after its preview"
//	session:
//	  goal: replace the release notes
//	  safety_profile: strict
//	isolated: true
//	files:
//	  notes.txt: "old notes\n"
//	actions:
//	  - do: import
//	    plan_file: ../plans/update_notes.yaml
//	  - do: approve_all
//	  - do: execute
//	    step: apply
//	    confirm: true
//	    expect:
//	      error: preview-required
//	assertions:
//	  - type: final_state
//	    table: files
//	    where: { path: notes.txt }
//	    expect: { content: "old notes\n" }
//
// Actions are import, approve_plan, approve_step, approve_all, skip,
// execute and stop. An action without expect must succeed; expect.error
// names the error code it must fail with, expect.run the status of the run
// it must record and expect.session the session status afterwards.
//
// # Assertion Types
//
//   - trace_contains: an event of the type exists (optionally for a step,
//     optionally with a summary substring)
//   - trace_order: event types first appear in the given order
//   - trace_count: matching events appear exactly N times
//   - final_state: the single row of sessions, steps, runs or files
//     matching where has the expected fields
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/happy_path.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
//
// In tests, RunWithGolden also compares the trace with
// testdata/golden/<name>.golden.
package harness
