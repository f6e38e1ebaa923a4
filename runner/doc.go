// Package runner expands test units across projects, runs the resulting
// plan on a bounded worker pool and collects one terminal outcome per
// (test, project) pair.
//
// Every attempt runs on a freshly acquired session. Assertion failures and
// timeouts are retried up to the configured count; an infrastructure failure
// is never retried and aborts the whole run.
package runner
