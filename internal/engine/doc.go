// Package engine implements the tick scheduler.
//
// The scheduler drives a tick pipeline at a fixed cadence on its own
// goroutine, independent of any caller's foreground work.
//
// ARCHITECTURE:
//
// Single-Writer Tick Loop:
// Run executes ticks one after another on the calling goroutine. A tick is
// one full pass of the pipeline; the next tick never starts before the
// previous one has returned. This is the only code path that mutates the
// mirror once loading has finished.
//
// Tick Processing Flow:
// 1. Check for cancellation
// 2. Advance the Clock to get the tick number (first tick is 1)
// 3. Run every pipeline step in order
// 4. Sleep for the configured interval (cancellable)
//
// State Machine:
//
//	Idle --Run--> Running --ctx done / max ticks--> Stopped
//	                  \--tick failure (PolicyHalt)--> Halted
//
// Halted retains the causing *TickError. With PolicySkip a failed tick is
// logged and counted, and the loop continues with the next tick.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Tick numbers come from Clock.Next(), never from wall-clock time.
//
// Fixed Delay:
// The interval is measured from the end of one tick to the start of the
// next. A slow tick delays every later tick; ticks are never skipped to catch up.
package engine
