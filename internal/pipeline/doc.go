// Package pipeline runs the ordered transformation steps of one tick against
// the mirror.
//
// A Step is a named SQL script with named parameters. Exec steps run every
// statement of their script inside one transaction on one pooled connection;
// Query steps run a single SELECT and hand each row to a Sink. Each step
// acquires its own connection and releases it before the next step starts,
// so steps never interleave and a later step always sees the earlier steps'
// committed writes.
//
// # Default Steps
//
//   - position_integrator: position += velocity over one time unit
//   - ball_collision: reflect and clamp entities outside Bounds
//   - velocity_position_debugger: emit view_velocity_position to the Sink
//
// Scripts are embedded from sql/ and can be replaced with a pipeline file
// (see LoadFile).
package pipeline
