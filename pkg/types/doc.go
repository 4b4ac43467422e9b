/*
Package types defines the data model shared by every modlog package.

# Records

A LogEntry is one moderation record. Identities (subject, operator, group)
are stored annotated as "id（display-name）"; IdentityOf, Annotate and
SplitAnnotated convert between the bare and annotated forms. Duration is set
only for actions where Action.RequiresDuration reports true.

# Mutations

Writes are described by a Mutation and answered with an Outcome. The Kind
selects which Log Store operation the serial worker applies.

# Errors

Failures are typed so callers can render them precisely:

	var verr *types.ValidationError
	if errors.As(err, &verr) {
		// verr.Field, verr.Reason
	}

ValidationError, ConflictError, LookupError, TimeoutError, StorageError and
BackupVerificationError cover every failure path; the sentinels ErrNotFound,
ErrIDExists, ErrNoChange, ErrBackupRunning and ErrBridgeStopped are wrapped
inside them where useful.
*/
package types
