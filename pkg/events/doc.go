/*
Package events provides an in-memory event broker shared by the SWIM
membership engine, the Raft election engine and the limbo replication
queue.

# Architecture

Non-blocking pub/sub over buffered channels:

	Publisher → event channel (buffer: 256) → broadcast loop → subscriber
	channels (buffer: 64 each, full buffers skip rather than block)

# Event namespaces

SWIM events (pkg/swim) report member-table triggers: joined, suspected,
dead, removed, refuted, left. Raft events (pkg/raft) report state updates,
election results and split votes. Limbo events (pkg/limbo) report
replication lifecycle: confirmed, rolled back, ownership transferred. All
namespaces share one Broker; subscribers filter on Event.Type.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Message)
		}
	}()

# Limitations

In-memory only, no persistence, no replay, no delivery guarantee. A full
subscriber buffer drops new events for that subscriber rather than
blocking publishers.
*/
package events
