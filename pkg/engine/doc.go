// Package engine provides the core task orchestration engine for AutoOps.
//
// The engine accepts a unit of work (a natural-language cluster-operations
// request), produces an ordered plan of typed operations, executes that plan
// with bounded concurrency and automatic retry, and tracks the lifecycle of
// every request until terminal success, failure, or cancellation.
//
// Three components make up the engine, leaves first:
//
//   - OperationExecutor applies plan operations against a ResourceBackend
//     with a concurrency cap, per-operation retry with exponential backoff,
//     and explicit rollback of completed creates in reverse plan order.
//
//   - Workflow is the state machine that drives a single task through
//     plan -> validate -> execute, entering a bounded recovery loop on any
//     phase failure. Cancellation is cooperative at phase boundaries;
//     a timeout is terminal and never retried.
//
//   - Manager owns the priority admission queue, the fixed worker pool,
//     task persistence, cancellation, the terminal-task reaper, and
//     aggregate metrics. Every task is driven end-to-end by exactly one
//     worker, so task records have a single writer for their whole
//     lifetime.
//
// Collaborators are consumed through narrow interfaces: PlanGenerator turns
// a request into a Plan, ResourceBackend applies one typed operation, and
// TaskStore persists task records best-effort (a failing store degrades to
// in-memory-only tracking, it never crashes the engine).
package engine
