package limbo

import "github.com/tarantool/dbcore/pkg/events"

// Event types published onto the shared events.Broker whenever an entry
// reaches a terminal state or ownership changes (spec §4.6a).
const (
	EventConfirm           events.Type = "limbo.confirm"
	EventRollback          events.Type = "limbo.rollback"
	EventOwnershipTransfer events.Type = "limbo.ownership_transfer"
)
