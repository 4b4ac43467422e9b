/*
Package storage persists moderation logs and scheduler state.

# Log store

SQLiteStore keeps every entry in one table of a single SQLite file:

	logs(id, subject, action, reason, operator, duration, "group", timestamp)

The database runs in WAL mode with synchronous=NORMAL, so reads proceed
while the mutation worker writes and an acknowledged commit survives a
process crash. Write transactions begin IMMEDIATE.

Identifiers come from AUTOINCREMENT. Deleting the current maximum id lowers
the sequence to the new maximum in the same transaction, so the next create
reuses the freed number. Ids below the maximum are never reused.

Multi-step writes keep rows and media in step:

  - Create inserts the row and writes its images before committing
  - Delete removes the row, lowers the sequence and deletes images
  - Renumber moves the row and renames images; a failed rename rolls the
    row back and restores any files already moved
  - RestoreFrom replaces the table from an attached snapshot and swaps the
    media directory inside one transaction

# Online backup

OnlineBackup checkpoints the WAL with TRUNCATE and copies the database with
VACUUM INTO, which reads from a single snapshot while writers continue. The
copy is opened read-only and checked (logs table present, integrity_check
ok, row count queryable) before the caller sees it; a copy that fails is
deleted.

# State store

BoltStore keeps the backup scheduler's bookkeeping in BoltDB: the last
successful backup time, the persisted auto-backup switch and a history of
backup attempts keyed by time.
*/
package storage
