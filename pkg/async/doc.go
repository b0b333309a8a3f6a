// Package async runs background work with panic recovery and per-task
// timeouts.
//
// SafeGo starts a single fire-and-forget task. WorkerPool runs submitted
// tasks on a fixed set of goroutines and is used for permission cache
// rebuilds after an account is evicted. Batch fans a function out over a
// slice with bounded concurrency and collects the failures.
//
// Failures are logged through logrus; see SetLogger.
package async
