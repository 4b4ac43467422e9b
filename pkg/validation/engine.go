package validation

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cuemby/modlog/pkg/chat"
	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/jonboulle/clockwork"
)

var (
	digitsRe  = regexp.MustCompile(`^\d+$`)
	numericRe = regexp.MustCompile(`^[+-]?\d*\.?\d+$`)
)

// Engine normalizes operator input against one style snapshot. Build a new
// Engine per request from the provider's current style; a later reload does
// not affect an Engine already in use.
type Engine struct {
	style      *config.Style
	client     chat.Client
	adminGroup string
	clock      clockwork.Clock
}

// Option configures an Engine
type Option func(*Engine)

// WithAdminGroup sets the group whose members may act as operators
func WithAdminGroup(id string) Option {
	return func(e *Engine) { e.adminGroup = id }
}

// WithClock replaces the wall clock used for future-time checks
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine bound to style. Client may be nil, in which case
// every lookup that needs it fails.
func New(style *config.Style, client chat.Client, opts ...Option) *Engine {
	e := &Engine{
		style:  style,
		client: client,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Style returns the style the engine validates against
func (e *Engine) Style() *config.Style {
	return e.style
}

// ID parses a log identifier
func (e *Engine) ID(value string) (int64, error) {
	if !digitsRe.MatchString(value) {
		return 0, types.Invalid(types.FieldID, types.ReasonIDFormat, value)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, types.Invalid(types.FieldID, types.ReasonIDFormat, value)
	}
	return id, nil
}

// Field resolves a field nickname
func (e *Engine) Field(nick string) (types.Field, error) {
	f, ok := e.style.Fields[nick]
	if !ok {
		return "", &types.ValidationError{
			Field:  types.Field(nick),
			Reason: types.ReasonFieldUnknown,
			Value:  nick,
			Known:  sortedKeys(e.style.Fields),
		}
	}
	return f, nil
}

// Action resolves an action nickname to the closed vocabulary
func (e *Engine) Action(value string) (types.Action, error) {
	a, ok := e.style.Actions[value]
	if !ok {
		return "", &types.ValidationError{
			Field:  types.FieldAction,
			Reason: types.ReasonActionUnknown,
			Value:  value,
			Known:  sortedKeys(e.style.Actions),
		}
	}
	return a, nil
}

// IsAction reports whether value names an action
func (e *Engine) IsAction(value string) bool {
	_, ok := e.style.Actions[value]
	return ok
}

// Reason rejects empty and purely numeric reasons
func (e *Engine) Reason(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", types.Invalid(types.FieldReason, types.ReasonReasonEmpty, value)
	}
	if numericRe.MatchString(trimmed) {
		return "", types.Invalid(types.FieldReason, types.ReasonReasonNumeric, value)
	}
	return value, nil
}

// Limit parses a positive result limit. An empty value yields the style
// default.
func (e *Engine) Limit(value string) (int, error) {
	if value == "" {
		return e.style.SearchLimit, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || !digitsRe.MatchString(value) || n <= 0 {
		return 0, types.Invalid("limit", types.ReasonLimitFormat, value)
	}
	return n, nil
}

// Identity checks a bare numeric identity against the configured length
func (e *Engine) Identity(field types.Field, id string) error {
	if !digitsRe.MatchString(id) {
		return types.Invalid(field, types.ReasonIdentityFormat, id)
	}
	n := float64(len(id))
	if !e.style.IdentityLength.Contains(n) {
		return types.Invalid(field, types.ReasonIdentityLength, id)
	}
	return nil
}

// Subject normalizes a subject to its annotated form. A bare id is
// annotated with its display name in group; with an empty group no lookup
// is made and the bare id is returned.
func (e *Engine) Subject(ctx context.Context, value, group string) (string, error) {
	if digitsRe.MatchString(value) {
		if err := e.Identity(types.FieldSubject, value); err != nil {
			return "", err
		}
		if group == "" {
			return value, nil
		}
		name, err := e.displayName(ctx, group, value)
		if err != nil {
			return "", err
		}
		return types.Annotate(value, name), nil
	}

	id, _, ok := types.SplitAnnotated(value)
	if !ok {
		return "", types.Invalid(types.FieldSubject, types.ReasonIdentityFormat, value)
	}
	if err := e.Identity(types.FieldSubject, id); err != nil {
		return "", err
	}
	return value, nil
}

// Group resolves a group id, nickname or annotated group to its annotated
// form. Only groups listed in the style are accepted.
func (e *Engine) Group(value string) (string, error) {
	if utf8.RuneCountInString(value) <= 1 {
		return "", types.Invalid(types.FieldGroup, types.ReasonGroupShort, value)
	}

	var id string
	switch {
	case digitsRe.MatchString(value):
		if err := e.Identity(types.FieldGroup, value); err != nil {
			return "", err
		}
		id = value
	case e.style.GroupNicknames[value] != "":
		id = e.style.GroupNicknames[value]
	default:
		gid, _, ok := types.SplitAnnotated(value)
		if !ok {
			return "", types.Invalid(types.FieldGroup, types.ReasonIdentityFormat, value)
		}
		if err := e.Identity(types.FieldGroup, gid); err != nil {
			return "", err
		}
		id = gid
	}

	name, ok := e.style.Groups[id]
	if !ok {
		known := make([]string, 0, len(e.style.Groups))
		for _, gid := range e.style.GroupIDs() {
			known = append(known, types.Annotate(gid, e.style.Groups[gid]))
		}
		return "", &types.ValidationError{
			Field:  types.FieldGroup,
			Reason: types.ReasonGroupUnknown,
			Value:  id,
			Known:  known,
		}
	}
	return types.Annotate(id, name), nil
}

// Operator resolves an operator through the nickname table, the privileged
// set or live membership of the admin group
func (e *Engine) Operator(ctx context.Context, value string) (string, error) {
	if id, ok := e.style.OperatorNicknames[value]; ok {
		if _, listed := e.style.Operators[id]; !listed {
			return "", types.Invalid(types.FieldOperator, types.ReasonNicknameUnmapped, value)
		}
		return e.style.OperatorName(id), nil
	}

	id, annotated := value, false
	if !digitsRe.MatchString(value) {
		gid, _, ok := types.SplitAnnotated(value)
		if !ok {
			return "", types.Invalid(types.FieldOperator, types.ReasonIdentityFormat, value)
		}
		id, annotated = gid, true
	}
	if err := e.Identity(types.FieldOperator, id); err != nil {
		return "", err
	}

	if e.style.IsOperator(id) {
		if annotated {
			return value, nil
		}
		return e.style.OperatorName(id), nil
	}

	if e.adminGroup == "" || e.client == nil {
		return "", types.Invalid(types.FieldOperator, types.ReasonOperatorUnknown, id)
	}
	members, err := e.client.GroupMembers(ctx, e.adminGroup)
	if err != nil {
		return "", chat.AsLookupError(err, e.adminGroup, id)
	}
	if !containsString(members, id) {
		return "", &types.ValidationError{
			Field:  types.FieldOperator,
			Reason: types.ReasonOperatorUnknown,
			Value:  id,
			Detail: e.adminGroup,
		}
	}
	if annotated {
		return value, nil
	}
	name, err := e.client.ResolveMemberDisplayName(ctx, e.adminGroup, id)
	if err != nil {
		// Membership is already established; the annotation is cosmetic
		return id, nil
	}
	return types.Annotate(id, name), nil
}

func (e *Engine) displayName(ctx context.Context, group, subject string) (string, error) {
	if e.client == nil {
		return "", &types.LookupError{Kind: types.LookupFailed, Subject: subject, Group: group, Detail: "no chat client"}
	}
	name, err := e.client.ResolveMemberDisplayName(ctx, group, subject)
	if err != nil {
		return "", chat.AsLookupError(err, group, subject)
	}
	return name, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
