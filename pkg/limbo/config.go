package limbo

import "time"

// Config holds the limbo queue's tunables (spec §4.6/§6 "Configuration
// knobs").
type Config struct {
	// MaxSize bounds the queue's total approximate byte weight
	// (queue.max_size). Submissions beyond this block unless the queue
	// is foreign-owned (applier path never blocks on size, spec
	// §4.6's would_block note).
	MaxSize int

	// Quorum is the number of distinct replica acks (including the
	// owner itself) required before an entry may be confirmed.
	Quorum int

	// WaitTimeout bounds how long wait_complete waits for an entry's
	// outcome (replication_synchro_timeout).
	WaitTimeout time.Duration

	// RollbackOnTimeout mirrors replication_synchro_timeout_rollback_enabled:
	// when false, a timed-out wait surfaces an ErrKindTimeout error instead of
	// ever rolling the entry back.
	RollbackOnTimeout bool
}

// DefaultConfig returns reasonable defaults for tests and the CLI.
func DefaultConfig() Config {
	return Config{
		MaxSize:           16 << 20,
		Quorum:            2,
		WaitTimeout:       4 * time.Second,
		RollbackOnTimeout: true,
	}
}
