// Package incubator creates, runs and tears down short-lived response tasks.
//
// Task types form a closed registry built at startup. Spawn resolves a type,
// builds a task from its parameters, gives it a private scratch workspace
// and runs it under a hard deadline. The workspace is removed on every exit
// path: success, timeout, fault or panic.
//
// In-process tasks must honor context cancellation; a task that ignores it
// past the teardown grace period is abandoned and reported as timed out.
// Process-backed tasks are killed together with their whole process group.
package incubator
