// Package checkpoint defines the durable per-task progress snapshot and
// the store contract it is persisted through. The storage medium is an
// implementation choice behind the Store interface; sqlite and postgres
// backends live under internal/platform.
package checkpoint
