package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/types"
)

// RawFields is an unvalidated add request as it arrives from a chat command
// or a web form
type RawFields struct {
	Subject  string `json:"subject"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Group    string `json:"group"`
	Duration string `json:"duration,omitempty"`

	// Operator defaults to the caller
	Operator string `json:"operator,omitempty"`

	// Time defaults to now
	Time string `json:"time,omitempty"`

	Images map[int][]byte `json:"-"`
}

// EditRequest is an unvalidated single-field edit
type EditRequest struct {
	ID    int64
	Field string // nickname, resolved through the style
	Value string

	// Duration accompanies a change of action to mute
	Duration string

	Images map[int][]byte
}

// Query is a normalized search
type Query struct {
	Field types.Field
	Value string
	Mode  types.MatchMode
	Limit int
}

// StageAdd validates a new record. Rules run in a fixed order and the first
// failure is returned.
func (e *Engine) StageAdd(ctx context.Context, raw RawFields, caller string) (*types.Mutation, error) {
	action, err := e.Action(raw.Action)
	if err != nil {
		return nil, err
	}

	var duration string
	switch {
	case action.RequiresDuration() && raw.Duration == "":
		return nil, types.Invalid(types.FieldDuration, types.ReasonDurationRequired, "")
	case action.RequiresDuration():
		if duration, err = e.Duration(raw.Duration); err != nil {
			return nil, err
		}
	case raw.Duration != "":
		return nil, &types.ValidationError{
			Field:  types.FieldDuration,
			Reason: types.ReasonDurationNotAllow,
			Value:  raw.Duration,
			Detail: string(action),
		}
	}

	if e.style.RequireEvidence && len(raw.Images) == 0 {
		return nil, types.Invalid(types.FieldImage, types.ReasonEvidenceRequired, "")
	}

	group, err := e.Group(raw.Group)
	if err != nil {
		return nil, err
	}
	subject, err := e.Subject(ctx, raw.Subject, types.IdentityOf(group))
	if err != nil {
		return nil, err
	}
	reason, err := e.Reason(raw.Reason)
	if err != nil {
		return nil, err
	}

	opValue := raw.Operator
	if opValue == "" {
		opValue = caller
	}
	operator, err := e.Operator(ctx, opValue)
	if err != nil {
		return nil, err
	}

	at := e.clock.Now()
	if raw.Time != "" {
		if at, err = e.Time(raw.Time); err != nil {
			return nil, err
		}
	}

	return &types.Mutation{
		Kind: types.MutationAdd,
		Entry: &types.LogEntry{
			Subject:   subject,
			Action:    action,
			Reason:    reason,
			Operator:  operator,
			Duration:  duration,
			Group:     group,
			Timestamp: at.Truncate(time.Second),
		},
		Images: raw.Images,
	}, nil
}

// StageEdit validates a change to current. An edit that would store the
// values already present fails with types.ErrNoChange.
func (e *Engine) StageEdit(ctx context.Context, current *types.LogEntry, req EditRequest) (*types.Mutation, error) {
	field, err := e.Field(req.Field)
	if err != nil {
		return nil, err
	}

	switch field {
	case types.FieldImage:
		if len(req.Images) == 0 {
			return nil, types.Invalid(types.FieldImage, types.ReasonEvidenceRequired, "")
		}
		return &types.Mutation{Kind: types.MutationReplaceMedia, ID: current.ID, Field: field, Images: req.Images}, nil

	case types.FieldID:
		newID, err := e.ID(req.Value)
		if err != nil {
			return nil, err
		}
		return &types.Mutation{Kind: types.MutationRenumber, ID: current.ID, Field: field, NewID: newID}, nil
	}

	if req.Value == "" {
		return nil, &types.ValidationError{Field: field, Reason: types.ReasonFieldMissing}
	}

	changes := make(map[types.Field]*string)
	set := func(f types.Field, v string) { changes[f] = &v }

	switch field {
	case types.FieldAction:
		action, err := e.Action(req.Value)
		if err != nil {
			return nil, err
		}
		set(types.FieldAction, string(action))
		switch {
		case action.RequiresDuration():
			if req.Duration == "" {
				return nil, types.Invalid(types.FieldDuration, types.ReasonDurationRequired, "")
			}
			d, err := e.Duration(req.Duration)
			if err != nil {
				return nil, err
			}
			set(types.FieldDuration, d)
		case req.Duration != "":
			return nil, &types.ValidationError{
				Field:  types.FieldDuration,
				Reason: types.ReasonDurationNotAllow,
				Value:  req.Duration,
				Detail: string(action),
			}
		case current.Duration != "":
			changes[types.FieldDuration] = nil
		}

	case types.FieldDuration:
		if !current.Action.RequiresDuration() {
			return nil, &types.ValidationError{
				Field:  types.FieldDuration,
				Reason: types.ReasonDurationNotAllow,
				Value:  req.Value,
				Detail: string(current.Action),
			}
		}
		d, err := e.Duration(req.Value)
		if err != nil {
			return nil, err
		}
		set(types.FieldDuration, d)

	case types.FieldReason:
		r, err := e.Reason(req.Value)
		if err != nil {
			return nil, err
		}
		set(types.FieldReason, r)

	case types.FieldOperator:
		op, err := e.Operator(ctx, req.Value)
		if err != nil {
			return nil, err
		}
		set(types.FieldOperator, op)

	case types.FieldSubject:
		s, err := e.Subject(ctx, req.Value, current.GroupID())
		if err != nil {
			return nil, err
		}
		set(types.FieldSubject, s)

	case types.FieldGroup:
		g, err := e.Group(req.Value)
		if err != nil {
			return nil, err
		}
		set(types.FieldGroup, g)

	case types.FieldTime:
		t, err := e.Time(req.Value)
		if err != nil {
			return nil, err
		}
		set(types.FieldTime, t.Format(types.TimeLayout))

	default:
		return nil, types.Invalid(field, types.ReasonFieldUnsupported, string(field))
	}

	if unchanged(current, changes) {
		return nil, fmt.Errorf("%s of log %d: %w", field, current.ID, types.ErrNoChange)
	}
	return &types.Mutation{Kind: types.MutationEdit, ID: current.ID, Field: field, Changes: changes}, nil
}

// StageSearch validates a field search. A search on id is returned with
// MatchExact so the caller can answer it with a single lookup.
func (e *Engine) StageSearch(ctx context.Context, fieldNick, value, limit string) (*Query, error) {
	field, err := e.Field(fieldNick)
	if err != nil {
		return nil, err
	}
	n, err := e.Limit(limit)
	if err != nil {
		return nil, err
	}
	q := &Query{Field: field, Limit: n}

	switch field {
	case types.FieldAction:
		a, err := e.Action(value)
		if err != nil {
			return nil, err
		}
		q.Value, q.Mode = string(a), types.MatchExact

	case types.FieldReason:
		r, err := e.Reason(value)
		if err != nil {
			return nil, err
		}
		q.Value, q.Mode = r, types.MatchContains

	case types.FieldOperator:
		op, err := e.Operator(ctx, value)
		if err != nil {
			return nil, err
		}
		q.Value, q.Mode = types.IdentityOf(op), types.MatchPrefix

	case types.FieldDuration:
		d, err := e.Duration(value)
		if err != nil {
			return nil, err
		}
		q.Value, q.Mode = d, types.MatchExact

	case types.FieldSubject:
		id := types.IdentityOf(value)
		if !digitsRe.MatchString(id) {
			q.Value, q.Mode = id, types.MatchContains
			break
		}
		if err := e.Identity(types.FieldSubject, id); err != nil {
			return nil, err
		}
		q.Value, q.Mode = id, types.MatchPrefix

	case types.FieldGroup:
		g, err := e.Group(value)
		if err != nil {
			return nil, err
		}
		q.Value, q.Mode = types.IdentityOf(g), types.MatchPrefix

	case types.FieldTime:
		q.Value, q.Mode = strings.ReplaceAll(value, ",", " "), types.MatchContains

	case types.FieldID:
		if _, err := e.ID(value); err != nil {
			return nil, err
		}
		q.Value, q.Mode = value, types.MatchExact

	default:
		return nil, types.Invalid(field, types.ReasonFieldUnsupported, string(field))
	}
	return q, nil
}

// StageSubjectSearch validates the short form that searches by bare subject
// id
func (e *Engine) StageSubjectSearch(value, limit string) (*Query, error) {
	id := types.IdentityOf(value)
	if err := e.Identity(types.FieldSubject, id); err != nil {
		return nil, err
	}
	n, err := e.Limit(limit)
	if err != nil {
		return nil, err
	}
	return &Query{Field: types.FieldSubject, Value: id, Mode: types.MatchPrefix, Limit: n}, nil
}

func unchanged(current *types.LogEntry, changes map[types.Field]*string) bool {
	for f, v := range changes {
		now := current.Value(f)
		if v == nil {
			if now != "" {
				return false
			}
			continue
		}
		if *v != now {
			return false
		}
	}
	return true
}
