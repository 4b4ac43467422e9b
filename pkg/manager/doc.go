/*
Package manager wires modlog's components and exposes the operations the
chat and web front-ends call.

# Architecture

	caller ── ValidateAndStage / StageEdit ──► validation.Engine
	   │                                         (current style)
	   └── SubmitMutation ──► bridge.Bridge ──► Manager.Apply (worker)
	                                              │  conflict.Cache check
	                                              ▼
	                                         storage.SQLiteStore ◄── reads
	                                              ▲
	backup.Scheduler ── OnlineBackup ─────────────┘

Reads (QueryByID, QueryByField, Count, CountAndRisk, NthID) go straight to
the store and run concurrently with the worker. Every write is a
types.Mutation applied by Apply on the worker goroutine, so the conflict
check and the write that follows it never interleave with another write.

# Conflicts

The worker records the caller against a record id after every successful
add, edit, delete, renumber and media replacement. An edit, delete,
renumber or media replacement by a different caller inside the conflict
window is refused with *types.ConflictError naming the earlier caller; the
store is not touched. A renumber moves the entry to the new id.

# Restore

RestoreBackup is a mutation too, so it is serialized with ordinary writes:

 1. Extract the archive beside the media directory
 2. Make a pre-restore backup of the current state
 3. Replace the log table and swap the media directory
 4. Clear the conflict cache

A failure in steps 1 to 3 leaves the store as it was.

# Backups

TriggerBackup runs a manual backup through the scheduler and fails with
types.ErrBackupRunning while another backup is in progress. Scheduled
backups are reported to the admin group with the backup_notice and
backup_notice_failed messages.

# Events

Apply publishes log.* events and the backup paths publish backup.* events
on the broker returned by Events.
*/
package manager
