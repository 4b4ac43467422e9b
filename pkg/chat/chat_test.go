package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/modlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticClient(t *testing.T) {
	ctx := context.Background()
	c := NewStaticClient()
	c.AddMember("900001", "123456", "bob")
	c.AddMember("900001", "10001", "alice")

	name, err := c.ResolveMemberDisplayName(ctx, "900001", "123456")
	require.NoError(t, err)
	assert.Equal(t, "bob", name)

	_, err = c.ResolveMemberDisplayName(ctx, "900001", "999999")
	assert.ErrorIs(t, err, ErrNotMember)

	members, err := c.GroupMembers(ctx, "900001")
	require.NoError(t, err)
	assert.Equal(t, []string{"10001", "123456"}, members)

	require.NoError(t, c.PerformGroupAction(ctx, "900001", "123456", types.ActionKick, 0))
	_, err = c.ResolveMemberDisplayName(ctx, "900001", "123456")
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, []Action{{Group: "900001", Subject: "123456", Action: types.ActionKick}}, c.Actions())

	require.NoError(t, c.SendNotification(ctx, "900001", "hi"))
	assert.Equal(t, []Notification{{Channel: "900001", Text: "hi"}}, c.Notifications())
}

func TestAsLookupError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.LookupKind
	}{
		{"not member", ErrNotMember, types.LookupNotMember},
		{"bad credential", ErrBadCredential, types.LookupBadCredential},
		{"other", errors.New("connection reset"), types.LookupFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			le := AsLookupError(tt.err, "900001", "123456")
			assert.Equal(t, tt.want, le.Kind)
			assert.Equal(t, "900001", le.Group)
			assert.ErrorIs(t, le, tt.err)
		})
	}

	existing := &types.LookupError{Kind: types.LookupNotMember, Detail: "retcode 200"}
	assert.Same(t, existing, AsLookupError(existing, "g", "s"))
}
