/*
Package event provides the harness's pub/sub event bus: the scheduler,
session runtime, verification pipeline, and alert store publish to it, and
the telemetry API's push channel and alert store subscribe to it.

# Architecture

Built on watermill's gochannel for underlying infrastructure while keeping
direct-call dispatch so subscribers receive typed Go values, not re-decoded
JSON.

# Event catalog

  - status.updated: scheduler heartbeat (state, current feature/session)
  - backlog.updated: feature-list.json changed
  - feature.updated: one feature's status/fields changed
  - session.started: a session attempt began
  - session.ended: a session attempt finished, with its outcome
  - cost.update: incremental cost/usage figures for a running session
  - progress.update: a new progress-log entry was appended
  - alert.created: the alert store raised a new alert

# Delivery semantics

Publish is non-blocking: each subscriber owns a bounded queue (see
DefaultQueueSize) serviced by its own goroutine, and a full queue drops its
oldest entry to make room for the newest rather than stalling the publisher.
DroppedTotal reports the running total of dropped events.

PublishSync calls every matching subscriber inline, in registration order,
before returning. Use it only for subscribers that complete quickly, since
the publisher waits for each of them. A subscriber may call the non-blocking
Publish from inside such a handler: the alert store does so to announce
alert.created.

# Testing

	event.Reset() // clears global bus state between tests

# Custom bus instances

	bus := event.NewBus()
	defer bus.Close()
	unsubscribe := bus.Subscribe(event.SessionStarted, handler)

# Integration with watermill

Each Bus holds a watermill gochannel pubsub internally; it is not exposed
through this package's API, and only Close reaches it.
*/
package event
