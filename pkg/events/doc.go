/*
Package events provides an in-memory event broker for modlog.

The mutation worker publishes an event after every applied mutation, the
backup scheduler after every backup attempt and the style watcher after
every reload. Subscribers receive events asynchronously on buffered
channels; a slow subscriber misses events rather than slowing the worker.

	Publisher → event channel (buffer: 100) → broadcast loop
	                                            ↓
	                          subscriber channels (buffer: 50 each)

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Printf("[%s] %s by %s: %s\n",
				ev.Timestamp.Format("15:04:05"), ev.Type, ev.Actor, ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventLogCreated,
		Actor:    "11111（alice）",
		Message:  "log 12 created",
		Metadata: map[string]string{"id": "12", "action": "mute"},
	})

Events without an ID get a random UUID; events without a timestamp get
the publish time.

# Event Types

Log events carry the record id in Metadata["id"]:

  - log.created: Metadata action, subject
  - log.updated: Metadata field
  - log.deleted
  - log.renumbered: Metadata new_id
  - log.media_replaced: Metadata images
  - log.restored: Metadata archive, entries

Backup events carry the archive name in Metadata["archive"]:

  - backup.created: Metadata trigger, entries
  - backup.failed: Metadata trigger, error
  - backup.deleted

Style events:

  - style.reloaded: Metadata style

Stop closes every subscriber channel, so ranging subscribers end cleanly.
*/
package events
