// Package events implements the per-task event stream connecting the
// generation pipeline to its observers. The pipeline is the single
// producer for a task; any number of stream adapters subscribe and each
// receives the full ordered event sequence from its requested starting
// point. Sequence numbers are per-task, monotonic, and gap-free.
package events
