package types

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the persisted and user-facing timestamp format
const TimeLayout = "2006-01-02 15:04:05"

// LogEntry represents a persisted moderation record
type LogEntry struct {
	ID        int64
	Subject   string // "id（display-name）" or bare id for legacy rows
	Action    Action
	Reason    string
	Operator  string
	Duration  string // set only when Action.RequiresDuration()
	Group     string
	Timestamp time.Time

	// Images maps media index to file path; filled by reads that ask for media
	Images map[int]string
}

// SubjectID returns the bare identifier of the subject
func (e *LogEntry) SubjectID() string {
	return IdentityOf(e.Subject)
}

// GroupID returns the bare identifier of the group
func (e *LogEntry) GroupID() string {
	return IdentityOf(e.Group)
}

// Clone returns a deep copy of the entry
func (e *LogEntry) Clone() *LogEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Images != nil {
		c.Images = make(map[int]string, len(e.Images))
		for k, v := range e.Images {
			c.Images[k] = v
		}
	}
	return &c
}

// Value returns the stored text of a single field
func (e *LogEntry) Value(f Field) string {
	switch f {
	case FieldID:
		return fmt.Sprintf("%d", e.ID)
	case FieldSubject:
		return e.Subject
	case FieldAction:
		return string(e.Action)
	case FieldReason:
		return e.Reason
	case FieldOperator:
		return e.Operator
	case FieldDuration:
		return e.Duration
	case FieldGroup:
		return e.Group
	case FieldTime:
		return e.Timestamp.Format(TimeLayout)
	}
	return ""
}

// Action is the moderation action type of a record
type Action string

const (
	ActionMute Action = "mute"
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
	ActionWarn Action = "warn"
)

// Actions lists the closed action vocabulary
var Actions = []Action{ActionMute, ActionKick, ActionBan, ActionWarn}

// Valid reports whether a is part of the closed vocabulary
func (a Action) Valid() bool {
	for _, v := range Actions {
		if a == v {
			return true
		}
	}
	return false
}

// RequiresDuration reports whether records of this action carry a duration
func (a Action) RequiresDuration() bool {
	return a == ActionMute
}

// Punitive reports whether the action removes or silences a member
func (a Action) Punitive() bool {
	return a == ActionMute || a == ActionKick || a == ActionBan
}

// Field names a LogEntry column addressable by edit and search
type Field string

const (
	FieldID       Field = "id"
	FieldSubject  Field = "subject"
	FieldAction   Field = "action"
	FieldReason   Field = "reason"
	FieldOperator Field = "operator"
	FieldDuration Field = "duration"
	FieldGroup    Field = "group"
	FieldTime     Field = "time"
	FieldImage    Field = "image"
)

// Fields lists every addressable field
var Fields = []Field{
	FieldID, FieldSubject, FieldAction, FieldReason, FieldOperator,
	FieldDuration, FieldGroup, FieldTime, FieldImage,
}

// Valid reports whether f is a known field
func (f Field) Valid() bool {
	for _, v := range Fields {
		if f == v {
			return true
		}
	}
	return false
}

// MatchMode selects how a search value is compared
type MatchMode int

const (
	MatchPrefix MatchMode = iota + 1
	MatchContains
	MatchExact
)

func (m MatchMode) String() string {
	switch m {
	case MatchPrefix:
		return "prefix"
	case MatchContains:
		return "contains"
	case MatchExact:
		return "exact"
	default:
		return "unknown"
	}
}

// MutationKind identifies the write applied by the serial worker
type MutationKind string

const (
	MutationAdd          MutationKind = "add"
	MutationEdit         MutationKind = "edit"
	MutationDelete       MutationKind = "delete"
	MutationRenumber     MutationKind = "renumber"
	MutationReplaceMedia MutationKind = "replace_media"
	MutationRestore      MutationKind = "restore"
)

// Mutation is a normalized, storage-ready write request
type Mutation struct {
	Kind MutationKind
	ID   int64

	// Entry is the record to create (add)
	Entry *LogEntry

	// Field is the field the operator asked to change (edit)
	Field Field

	// Changes holds normalized field values (edit). A nil value clears the field.
	Changes map[Field]*string

	// NewID is the target identifier (renumber)
	NewID int64

	// Images are media payloads keyed by index (add, replace_media)
	Images map[int][]byte

	// Archive names the backup to restore (restore)
	Archive string
}

// Outcome is the result of an applied mutation
type Outcome struct {
	Kind     MutationKind
	ID       int64
	Entry    *LogEntry
	Previous *LogEntry
	Images   int
	Field    Field
	Restored int // entries restored (restore)
	Err      error
}

// SubjectState is the cumulative membership state of a subject
type SubjectState string

const (
	StateAlive  SubjectState = "alive"
	StateKicked SubjectState = "kicked"
	StateBanned SubjectState = "banned"
)

// RiskSummary aggregates the history of a subject
type RiskSummary struct {
	Subject string
	Count   int
	Risk    float64
	State   SubjectState
}

// BackupArchive describes one snapshot artifact on disk
type BackupArchive struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// BackupTrigger names what started a backup
type BackupTrigger string

const (
	TriggerScheduled BackupTrigger = "scheduled"
	TriggerManual    BackupTrigger = "manual"
	TriggerRestore   BackupTrigger = "pre_restore"
)

// BackupRecord is one entry of the backup history
type BackupRecord struct {
	Name    string        `json:"name"`
	Trigger BackupTrigger `json:"trigger"`
	At      time.Time     `json:"at"`
	Entries int           `json:"entries"`
	Size    int64         `json:"size"`
	Error   string        `json:"error,omitempty"`
}

// Succeeded reports whether the backup produced an archive
func (r BackupRecord) Succeeded() bool {
	return r.Error == ""
}

// IdentityOf strips the display-name annotation from an identity
func IdentityOf(annotated string) string {
	if i := strings.Index(annotated, AnnotationOpen); i >= 0 {
		return annotated[:i]
	}
	return annotated
}

// Annotation delimiters used for "id（display-name）" identities
const (
	AnnotationOpen  = "（"
	AnnotationClose = "）"
)

// Annotate joins an identifier and display name
func Annotate(id, name string) string {
	if name == "" {
		return id
	}
	return id + AnnotationOpen + name + AnnotationClose
}

// SplitAnnotated parses "id（name）" and reports whether the form matched
func SplitAnnotated(s string) (id, name string, ok bool) {
	i := strings.Index(s, AnnotationOpen)
	if i <= 0 || !strings.HasSuffix(s, AnnotationClose) {
		return "", "", false
	}
	name = s[i+len(AnnotationOpen) : len(s)-len(AnnotationClose)]
	if name == "" {
		return "", "", false
	}
	return s[:i], name, true
}
