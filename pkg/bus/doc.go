/*
Package bus implements durable, priority-ordered messaging between agents.

Each agent owns one inbox. Senders enqueue durably; receivers drain in
(priority, enqueue order). Delivery is at-most-once per process lifetime:
the enqueue and the acknowledgement are durable, the delivered flag is
deliberately in-memory, so a crash between delivery and acknowledgement
re-delivers.

# Message flow

	 Send(sender, recipient, body, priority)
	   │  fingerprint id, durable Put
	   ▼
	┌──────────────────────────────────────────┐
	│ inbox: messages/<recipient>/<id>         │
	│   queued ──Receive──▶ delivered (memory) │
	│   queued/delivered ──Acknowledge──▶ acked│
	└──────────────────────────────────────────┘
	   ▲
	   │ sweeper: acked older than retention are removed
	   └── runs at least every minute

Ordering within an inbox: priority rank first (urgent, high, normal, low),
then enqueue time, then a store sequence that breaks same-instant ties and
survives restart.

Send is idempotent on (sender, send time, body): re-sending the same
fingerprint is a no-op returning the original id. Acknowledging twice is a
no-op; acknowledging an unknown id is a not_found error.

The retention sweeper only ever removes acknowledged messages. Unread
messages persist indefinitely unless Clear is called explicitly.
*/
package bus
