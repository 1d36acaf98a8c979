/*
Package eventbus is the in-process publish-subscribe spine the daemon's
subsystems use to stay decoupled from each other: persistence, stream health,
the process registry and the session state store all publish and subscribe
here rather than calling each other directly.

# Event topics

Topics are grouped by producer:

Session: session.created/updated/deleted/status/idle/diff
Message: message.updated/removed, message.part.updated/removed
Todo: todo.updated
Permission/Question: permission.asked/replied, question.asked/replied/rejected
Process registry: process.registered/deregistered/heartbeat/status_changed/offline/event
Stream health: stream.stall_warning/timeout/completed/failed
External collaborators: lsp.updated, vcs.branch.updated, mcp.event, provider.event
Lifecycle: server.instance.disposed

# Publishing

	eventbus.Publish(eventbus.Event{
		Type: eventbus.SessionUpdated,
		Data: eventbus.SessionUpdatedData{Info: session},
	})

	eventbus.PublishSync(eventbus.Event{
		Type: eventbus.SessionUpdated,
		Data: eventbus.SessionUpdatedData{Info: session},
	})

Publish coalesces same-topic publishes within BatchWindow and delivers them
off the caller's goroutine, in order. PublishSync delivers immediately and
synchronously, for callers (shutdown drains, tests) that need the handlers to
have run before it returns.

# Subscriber safety

A subscriber must not call Publish/PublishSync re-entrantly and should not do
slow work inline; dispatch to a worker if it needs to. A panicking subscriber
is recovered and logged — it never takes down the publisher or other
subscribers.

# Custom instances

	bus := eventbus.New()
	defer bus.Close()
	unsub := bus.Subscribe(eventbus.SessionCreated, handler)
*/
package eventbus
