// Package task is the core of the generation engine: the Manager owns
// the task registry and every status transition, and the pipeline runs
// the staged outline-then-episodes generation loop, publishing events
// and checkpointing after each stage so interrupted work can resume.
package task
