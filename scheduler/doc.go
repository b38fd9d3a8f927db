// Package scheduler owns agent execution: the priority-ordered tick loop,
// per-agent execution with governance consultation, agent-to-agent
// messaging, spawn hierarchy management and the resource monitoring loop.
//
// Concurrency model: cooperative, one agent at a time. A tick snapshots the
// ready set, stable-sorts it by priority descending (ties keep registration
// order) and drains the task queue completely before the next tick may
// start; overlapping ticks are skipped, never run concurrently. The tick
// loop and the resource monitor run on independent tickers so one loop's
// overrun cannot block the other, with cross-loop state behind the
// scheduler's mutex.
//
// The scheduler also implements the bridge platform contract, so it can be
// registered with a bridge under the "runtime" name and addressed like any
// other platform.
package scheduler
