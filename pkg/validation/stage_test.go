package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/modlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAdd() RawFields {
	return RawFields{
		Subject:  "123456",
		Action:   "mute",
		Reason:   "flooding",
		Group:    "main",
		Duration: "30m",
		Images:   map[int][]byte{1: []byte("img")},
	}
}

func TestEngine_StageAdd(t *testing.T) {
	e, _ := newEngine(t)

	m, err := e.StageAdd(context.Background(), validAdd(), "11111")
	require.NoError(t, err)
	assert.Equal(t, types.MutationAdd, m.Kind)
	require.NotNil(t, m.Entry)
	assert.Equal(t, "123456（bob）", m.Entry.Subject)
	assert.Equal(t, types.ActionMute, m.Entry.Action)
	assert.Equal(t, "30m", m.Entry.Duration)
	assert.Equal(t, testGroup+"（main）", m.Entry.Group)
	assert.Equal(t, "11111（alice）", m.Entry.Operator)
	assert.True(t, testNow.Equal(m.Entry.Timestamp))
	assert.Len(t, m.Images, 1)
}

func TestEngine_StageAddRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawFields)
		caller string
		field  types.Field
		reason types.Reason
	}{
		{"unknown action", func(r *RawFields) { r.Action = "zap" }, "11111", types.FieldAction, types.ReasonActionUnknown},
		{"mute without duration", func(r *RawFields) { r.Duration = "" }, "11111", types.FieldDuration, types.ReasonDurationRequired},
		{"bad duration", func(r *RawFields) { r.Duration = "90m" }, "11111", types.FieldDuration, types.ReasonDurationMinutes},
		{"duration on kick", func(r *RawFields) { r.Action = "kick" }, "11111", types.FieldDuration, types.ReasonDurationNotAllow},
		{"unknown group", func(r *RawFields) { r.Group = "555555" }, "11111", types.FieldGroup, types.ReasonGroupUnknown},
		{"short subject", func(r *RawFields) { r.Subject = "12" }, "11111", types.FieldSubject, types.ReasonIdentityLength},
		{"numeric reason", func(r *RawFields) { r.Reason = "42" }, "11111", types.FieldReason, types.ReasonReasonNumeric},
		{"unknown operator", func(r *RawFields) {}, "33333", types.FieldOperator, types.ReasonOperatorUnknown},
		{"future time", func(r *RawFields) { r.Time = "2030-01-01 00:00:00" }, "11111", types.FieldTime, types.ReasonTimeFuture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			raw := validAdd()
			tt.mutate(&raw)

			_, err := e.StageAdd(context.Background(), raw, tt.caller)
			var ve *types.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, tt.reason, ve.Reason)
		})
	}
}

func TestEngine_StageAddEvidence(t *testing.T) {
	e, _ := newEngine(t)
	e.style.RequireEvidence = true

	raw := validAdd()
	raw.Images = nil
	_, err := e.StageAdd(context.Background(), raw, "11111")
	assert.Equal(t, types.ReasonEvidenceRequired, reasonOf(t, err))

	e.style.RequireEvidence = false
	_, err = e.StageAdd(context.Background(), raw, "11111")
	assert.NoError(t, err)
}

func currentMute() *types.LogEntry {
	return &types.LogEntry{
		ID:        7,
		Subject:   "123456（bob）",
		Action:    types.ActionMute,
		Reason:    "flooding",
		Operator:  "11111（alice）",
		Duration:  "30m",
		Group:     testGroup + "（main）",
		Timestamp: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEngine_StageEdit(t *testing.T) {
	ctx := context.Background()

	t.Run("action away from mute clears duration", func(t *testing.T) {
		e, _ := newEngine(t)
		m, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "mode", Value: "kick"})
		require.NoError(t, err)
		assert.Equal(t, types.MutationEdit, m.Kind)
		assert.Equal(t, types.FieldAction, m.Field)
		require.Contains(t, m.Changes, types.FieldDuration)
		assert.Nil(t, m.Changes[types.FieldDuration])
		assert.Equal(t, "kick", *m.Changes[types.FieldAction])
	})

	t.Run("action to mute needs duration", func(t *testing.T) {
		e, _ := newEngine(t)
		cur := currentMute()
		cur.Action, cur.Duration = types.ActionWarn, ""

		_, err := e.StageEdit(ctx, cur, EditRequest{ID: 7, Field: "action", Value: "mute"})
		assert.Equal(t, types.ReasonDurationRequired, reasonOf(t, err))

		m, err := e.StageEdit(ctx, cur, EditRequest{ID: 7, Field: "action", Value: "mute", Duration: "2h"})
		require.NoError(t, err)
		assert.Equal(t, "2h", *m.Changes[types.FieldDuration])
	})

	t.Run("duration on a kick", func(t *testing.T) {
		e, _ := newEngine(t)
		cur := currentMute()
		cur.Action, cur.Duration = types.ActionKick, ""

		_, err := e.StageEdit(ctx, cur, EditRequest{ID: 7, Field: "duration", Value: "1h"})
		var ve *types.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, types.ReasonDurationNotAllow, ve.Reason)
		assert.Equal(t, "kick", ve.Detail)
	})

	t.Run("time accepts commas", func(t *testing.T) {
		e, _ := newEngine(t)
		m, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "time", Value: "2024-04-02,09:30:00"})
		require.NoError(t, err)
		assert.Equal(t, "2024-04-02 09:30:00", *m.Changes[types.FieldTime])
	})

	t.Run("id becomes renumber", func(t *testing.T) {
		e, _ := newEngine(t)
		m, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "id", Value: "3"})
		require.NoError(t, err)
		assert.Equal(t, types.MutationRenumber, m.Kind)
		assert.Equal(t, int64(7), m.ID)
		assert.Equal(t, int64(3), m.NewID)
	})

	t.Run("image replaces media", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "image"})
		assert.Equal(t, types.ReasonEvidenceRequired, reasonOf(t, err))

		m, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "images", Images: map[int][]byte{1: {1}}})
		require.NoError(t, err)
		assert.Equal(t, types.MutationReplaceMedia, m.Kind)
	})

	t.Run("unchanged value", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "reason", Value: "flooding"})
		assert.ErrorIs(t, err, types.ErrNoChange)

		_, err = e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "group", Value: "main"})
		assert.ErrorIs(t, err, types.ErrNoChange)
	})

	t.Run("unknown field", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "colour", Value: "red"})
		assert.Equal(t, types.ReasonFieldUnknown, reasonOf(t, err))
	})

	t.Run("missing value", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "reason"})
		assert.Equal(t, types.ReasonFieldMissing, reasonOf(t, err))
	})

	t.Run("subject is looked up in the record group", func(t *testing.T) {
		e, client := newEngine(t)
		client.AddMember(testGroup, "654321", "erin")
		m, err := e.StageEdit(ctx, currentMute(), EditRequest{ID: 7, Field: "target", Value: "654321"})
		require.NoError(t, err)
		assert.Equal(t, "654321（erin）", *m.Changes[types.FieldSubject])
	})
}

func TestEngine_StageSearch(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		field, value string
		want         Query
	}{
		{"action", "silence", Query{Field: types.FieldAction, Value: "mute", Mode: types.MatchExact, Limit: 10}},
		{"reason", "spam", Query{Field: types.FieldReason, Value: "spam", Mode: types.MatchContains, Limit: 10}},
		{"operator", "al", Query{Field: types.FieldOperator, Value: "11111", Mode: types.MatchPrefix, Limit: 10}},
		{"duration", "30m", Query{Field: types.FieldDuration, Value: "30m", Mode: types.MatchExact, Limit: 10}},
		{"target", "bob", Query{Field: types.FieldSubject, Value: "bob", Mode: types.MatchContains, Limit: 10}},
		{"subject", "123456（bob）", Query{Field: types.FieldSubject, Value: "123456", Mode: types.MatchPrefix, Limit: 10}},
		{"group", "main", Query{Field: types.FieldGroup, Value: testGroup, Mode: types.MatchPrefix, Limit: 10}},
		{"time", "2024-04,10", Query{Field: types.FieldTime, Value: "2024-04 10", Mode: types.MatchContains, Limit: 10}},
		{"id", "7", Query{Field: types.FieldID, Value: "7", Mode: types.MatchExact, Limit: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			q, err := e.StageSearch(ctx, tt.field, tt.value, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, *q)
		})
	}

	_, err := e.StageSearch(ctx, "image", "x", "")
	assert.Equal(t, types.ReasonFieldUnsupported, reasonOf(t, err))

	_, err = e.StageSearch(ctx, "subject", "123", "")
	assert.Equal(t, types.ReasonIdentityLength, reasonOf(t, err))

	q, err := e.StageSearch(ctx, "reason", "spam", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, q.Limit)
}

func TestEngine_StageSubjectSearch(t *testing.T) {
	e, _ := newEngine(t)

	q, err := e.StageSubjectSearch("123456", "5")
	require.NoError(t, err)
	assert.Equal(t, Query{Field: types.FieldSubject, Value: "123456", Mode: types.MatchPrefix, Limit: 5}, *q)

	_, err = e.StageSubjectSearch("123456", "x")
	assert.Equal(t, types.ReasonLimitFormat, reasonOf(t, err))
}
