package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/modlog/pkg/types"
)

var (
	// ErrNotMember is returned when the subject is not in the group
	ErrNotMember = errors.New("not a group member")

	// ErrBadCredential is returned when the transport rejects its access token
	ErrBadCredential = errors.New("bad credential")
)

// Client is the chat transport used to look up members and apply actions.
// Implementations own the wire protocol.
type Client interface {
	// ResolveMemberDisplayName returns the display name of subject in group
	ResolveMemberDisplayName(ctx context.Context, group, subject string) (string, error)

	// GroupMembers returns the member ids of group
	GroupMembers(ctx context.Context, group string) ([]string, error)

	// PerformGroupAction applies action to subject. Seconds is the mute
	// length and is ignored for other actions.
	PerformGroupAction(ctx context.Context, group, subject string, action types.Action, seconds int64) error

	// SendNotification posts text to a group or user channel
	SendNotification(ctx context.Context, channel, text string) error
}

// AsLookupError converts a client error into a LookupError
func AsLookupError(err error, group, subject string) *types.LookupError {
	var le *types.LookupError
	if errors.As(err, &le) {
		return le
	}
	kind := types.LookupFailed
	switch {
	case errors.Is(err, ErrNotMember):
		kind = types.LookupNotMember
	case errors.Is(err, ErrBadCredential):
		kind = types.LookupBadCredential
	}
	return &types.LookupError{Kind: kind, Subject: subject, Group: group, Err: err}
}

// Action records one PerformGroupAction call
type Action struct {
	Group   string
	Subject string
	Action  types.Action
	Seconds int64
}

// Notification records one SendNotification call
type Notification struct {
	Channel string
	Text    string
}

// StaticClient is an in-memory roster. It backs the exec CLI and tests, and
// records every action and notification it receives.
type StaticClient struct {
	mu      sync.Mutex
	members map[string]map[string]string // group -> subject -> display name

	actions       []Action
	notifications []Notification

	// Fail, when set, is returned by every call
	Fail error
}

// NewStaticClient builds an empty roster
func NewStaticClient() *StaticClient {
	return &StaticClient{members: make(map[string]map[string]string)}
}

// AddMember registers subject in group
func (c *StaticClient) AddMember(group, subject, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[group] == nil {
		c.members[group] = make(map[string]string)
	}
	c.members[group][subject] = name
}

func (c *StaticClient) ResolveMemberDisplayName(ctx context.Context, group, subject string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return "", c.Fail
	}
	name, ok := c.members[group][subject]
	if !ok {
		return "", fmt.Errorf("%s in %s: %w", subject, group, ErrNotMember)
	}
	return name, nil
}

func (c *StaticClient) GroupMembers(ctx context.Context, group string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return nil, c.Fail
	}
	ids := make([]string, 0, len(c.members[group]))
	for id := range c.members[group] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *StaticClient) PerformGroupAction(ctx context.Context, group, subject string, action types.Action, seconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	c.actions = append(c.actions, Action{Group: group, Subject: subject, Action: action, Seconds: seconds})
	if action == types.ActionKick || action == types.ActionBan {
		delete(c.members[group], subject)
	}
	return nil
}

func (c *StaticClient) SendNotification(ctx context.Context, channel, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	c.notifications = append(c.notifications, Notification{Channel: channel, Text: text})
	return nil
}

// Actions returns the recorded group actions
func (c *StaticClient) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.actions...)
}

// Notifications returns the recorded notifications
func (c *StaticClient) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.notifications...)
}
