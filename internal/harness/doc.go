// Package harness runs tick scenarios end to end and checks their outcome.
//
// A scenario seeds a fresh source database with entities, mirrors it into a
// private in-memory database, runs a fixed number of ticks through the
// scheduler, and evaluates assertions against the projection trace and the
// final mirror state. Every scenario gets its own mirror and a fixed run ID,
// so traces are reproducible and can be compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	run_id: run-fixed-id           # optional
//	ticks: 3
//	pipeline: pipelines/drag.yaml  # optional, relative to the scenario file
//	failure_policy: halt           # optional, halt or skip
//	bounds: {xmin: -100, xmax: 100, ymin: -50, ymax: 50}  # optional
//	entities:
//	  - {id: 1, vx: 10, vy: 5, px: 0, py: 0}
//	assertions:
//	  - type: step_order
//	    steps: [position_integrator, ball_collision, velocity_position_debugger]
//	  - type: trace_count
//	    step: velocity_position_debugger
//	    count: 3
//	  - type: final_state
//	    table: position
//	    where: { id: 1 }
//	    expect: { px: 30, py: 15 }
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - step_order: Every tick ran exactly these steps in this order. The tick
//     that halted the scheduler only needs to match a prefix.
//   - trace_count: A query step emitted exactly N rows, optionally on one tick
//   - final_state: Selects one row of a mirror table and verifies expected values
//   - halted_at: The scheduler halted on the given tick, optionally at a step
//
// A scenario whose scheduler halts fails unless it carries a halted_at
// assertion.
//
// # Golden Files
//
// RunWithGolden compares the projection trace against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
