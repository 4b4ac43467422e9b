package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record or archive does not exist
	ErrNotFound = errors.New("not found")

	// ErrIDExists is returned when a renumber target is already taken
	ErrIDExists = errors.New("id already exists")

	// ErrNoChange is returned when an edit would store the current value
	ErrNoChange = errors.New("value unchanged")

	// ErrBackupRunning rejects a backup while another one is in progress
	ErrBackupRunning = errors.New("backup already running")

	// ErrBridgeStopped is returned for requests the worker will never answer
	ErrBridgeStopped = errors.New("mutation bridge stopped")
)

// Reason is a machine-readable rejection cause. Its value is also the style
// message key used to render it.
type Reason string

const (
	ReasonIDFormat         Reason = "id_format"
	ReasonIdentityLength   Reason = "identity_length"
	ReasonIdentityFormat   Reason = "identity_format"
	ReasonActionUnknown    Reason = "action_unknown"
	ReasonReasonNumeric    Reason = "reason_numeric"
	ReasonReasonEmpty      Reason = "reason_empty"
	ReasonDurationRequired Reason = "duration_required"
	ReasonDurationFormat   Reason = "duration_format"
	ReasonDurationSeconds  Reason = "duration_range_seconds"
	ReasonDurationMinutes  Reason = "duration_range_minutes"
	ReasonDurationHours    Reason = "duration_range_hours"
	ReasonDurationDays     Reason = "duration_range_days"
	ReasonDurationWeeks    Reason = "duration_range_weeks"
	ReasonDurationMonth    Reason = "duration_range_month"
	ReasonDurationNotAllow Reason = "duration_not_allowed"
	ReasonGroupShort       Reason = "group_short"
	ReasonGroupUnknown     Reason = "group_unknown"
	ReasonNicknameUnmapped Reason = "nickname_unmapped"
	ReasonOperatorUnknown  Reason = "operator_unknown"
	ReasonTimeFormat       Reason = "time_format"
	ReasonTimeTrailing     Reason = "time_trailing"
	ReasonTimeDay          Reason = "time_day"
	ReasonTimeMonth        Reason = "time_month"
	ReasonTimeHour         Reason = "time_hour"
	ReasonTimeMinute       Reason = "time_minute"
	ReasonTimeSecond       Reason = "time_second"
	ReasonTimeFuture       Reason = "time_future"
	ReasonFieldUnknown     Reason = "field_unknown"
	ReasonFieldUnsupported Reason = "field_unsupported"
	ReasonFieldMissing     Reason = "field_missing"
	ReasonEvidenceRequired Reason = "evidence_required"
	ReasonLimitFormat      Reason = "limit_format"
	ReasonNameInvalid      Reason = "backup_name_invalid"
)

// ValidationError reports malformed operator input for a single field
type ValidationError struct {
	Field  Field
	Reason Reason
	Value  string
	Detail string
	// Known lists accepted values when the rejection is a lookup miss
	Known []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if len(e.Known) > 0 {
		msg += "; known: " + strings.Join(e.Known, ", ")
	}
	return msg
}

// Invalid builds a ValidationError
func Invalid(field Field, reason Reason, value string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

// ConflictError reports a recent change to the same record by another actor
type ConflictError struct {
	ID         int64
	OtherActor string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("log %d was changed by %s within the conflict window", e.ID, e.OtherActor)
}

// LookupKind classifies chat collaborator failures
type LookupKind string

const (
	LookupFailed        LookupKind = "failed"
	LookupNotMember     LookupKind = "not_member"
	LookupBadCredential LookupKind = "bad_credential"
)

// LookupError reports a failed or ambiguous external lookup
type LookupError struct {
	Kind    LookupKind
	Subject string
	Group   string
	Detail  string
	Err     error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("lookup %s in %s: %s", e.Subject, e.Group, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error { return e.Err }

// TimeoutError reports a mutation that produced no response in budget.
// The mutation itself may still be applied later.
type TimeoutError struct {
	RequestID string
	Waited    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response for request %s after %s", e.RequestID, e.Waited)
}

// StorageKind classifies Log Store failures
type StorageKind string

const (
	StorageNotFound   StorageKind = "not_found"
	StorageExists     StorageKind = "exists"
	StorageConstraint StorageKind = "constraint"
	StorageRollback   StorageKind = "rollback"
	StorageIO         StorageKind = "io"
)

// StorageError reports a Log Store failure. Multi-step operations roll back
// fully before returning one.
type StorageError struct {
	Op   string
	ID   int64
	Kind StorageKind
	Err  error
}

func (e *StorageError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s %d: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// BackupVerificationError reports a snapshot that failed its integrity check.
// The partial artifact has already been removed.
type BackupVerificationError struct {
	Path string
	Err  error
}

func (e *BackupVerificationError) Error() string {
	return fmt.Sprintf("verify backup %s: %v", e.Path, e.Err)
}

func (e *BackupVerificationError) Unwrap() error { return e.Err }
