package session

// Client is one connected participant channel, implemented by the gateway
// connection. The actor only ever enqueues; actual socket I/O stays on the
// gateway side.
type Client interface {
	ConnectionID() string
	UserID() uint64
	Username() string

	// EnqueueDurable queues a message that must not be dropped. A false
	// return means the outbound queue is wedged; the caller tears the
	// connection down and the client resyncs via snapshot on reconnect.
	EnqueueDurable(msg Outbound) bool

	// EnqueueEphemeral queues a best-effort message (cursors); dropped
	// silently under pressure.
	EnqueueEphemeral(msg Outbound)

	// Kick closes the connection asynchronously.
	Kick(reason string)
}
