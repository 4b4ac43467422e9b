package manager

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cuemby/modlog/pkg/backup"
	"github.com/cuemby/modlog/pkg/bridge"
	"github.com/cuemby/modlog/pkg/events"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/metrics"
	"github.com/cuemby/modlog/pkg/types"
)

// Apply performs one mutation on behalf of the worker. It is the only
// caller of the store's mutating methods and of the conflict cache, so the
// check-then-write below cannot interleave with another mutation.
func (m *Manager) Apply(ctx context.Context, req *bridge.Request) *types.Outcome {
	mut := req.Mutation
	timer := metrics.NewTimer()

	var out *types.Outcome
	switch mut.Kind {
	case types.MutationAdd:
		out = m.applyAdd(ctx, req.Caller, mut)
	case types.MutationEdit:
		out = m.applyEdit(ctx, req.Caller, mut)
	case types.MutationDelete:
		out = m.applyDelete(ctx, req.Caller, mut)
	case types.MutationRenumber:
		out = m.applyRenumber(ctx, req.Caller, mut)
	case types.MutationReplaceMedia:
		out = m.applyReplaceMedia(ctx, req.Caller, mut)
	case types.MutationRestore:
		out = m.applyRestore(ctx, req.Caller, mut)
	default:
		out = &types.Outcome{Kind: mut.Kind, Err: fmt.Errorf("unknown mutation kind %q", mut.Kind)}
	}
	timer.ObserveDurationVec(metrics.MutationDuration, string(mut.Kind))

	result := metrics.ResultSuccess
	var ce *types.ConflictError
	switch {
	case errors.As(out.Err, &ce):
		result = metrics.ResultConflict
	case out.Err != nil:
		result = metrics.ResultFailure
	}
	metrics.MutationsTotal.WithLabelValues(string(mut.Kind), result).Inc()

	id := mut.ID
	if out.Err == nil && out.ID != 0 {
		id = out.ID
	}
	logger := log.WithLogID(id).With().
		Str("requester", req.Caller).
		Str("kind", string(mut.Kind)).
		Logger()
	if out.Err != nil {
		logger.Warn().Err(out.Err).Msg("Mutation rejected")
	} else {
		logger.Debug().Dur("took", timer.Duration()).Msg("Mutation applied")
	}
	return out
}

// conflict returns a ConflictError when another actor changed id inside
// the window
func (m *Manager) conflict(id int64, caller string) error {
	other, ok := m.cache.Check(id, caller)
	if !ok {
		return nil
	}
	metrics.ConflictsTotal.Inc()
	return &types.ConflictError{ID: id, OtherActor: other}
}

func (m *Manager) applyAdd(ctx context.Context, caller string, mut *types.Mutation) *types.Outcome {
	out := &types.Outcome{Kind: mut.Kind}
	if mut.Entry == nil {
		out.Err = errors.New("add without an entry")
		return out
	}
	entry := mut.Entry.Clone()
	id, err := m.store.Create(ctx, entry, mut.Images)
	if err != nil {
		out.Err = err
		return out
	}
	entry.ID = id
	m.cache.Record(id, caller)

	out.ID, out.Entry, out.Images = id, entry, len(mut.Images)
	m.publish(events.EventLogCreated, caller, id, "log created", map[string]string{
		"action":  string(entry.Action),
		"subject": entry.SubjectID(),
	})
	return out
}

func (m *Manager) applyEdit(ctx context.Context, caller string, mut *types.Mutation) *types.Outcome {
	out := &types.Outcome{Kind: mut.Kind, ID: mut.ID, Field: mut.Field}
	if out.Err = m.conflict(mut.ID, caller); out.Err != nil {
		return out
	}
	if out.Previous, out.Err = m.store.Get(ctx, mut.ID, false); out.Err != nil {
		return out
	}
	if out.Err = m.store.UpdateFields(ctx, mut.ID, mut.Changes); out.Err != nil {
		return out
	}
	m.cache.Record(mut.ID, caller)

	if out.Entry, out.Err = m.store.Get(ctx, mut.ID, false); out.Err != nil {
		return out
	}
	m.publish(events.EventLogUpdated, caller, mut.ID, "log updated", map[string]string{"field": string(mut.Field)})
	return out
}

func (m *Manager) applyDelete(ctx context.Context, caller string, mut *types.Mutation) *types.Outcome {
	out := &types.Outcome{Kind: mut.Kind, ID: mut.ID}
	if out.Err = m.conflict(mut.ID, caller); out.Err != nil {
		return out
	}
	if out.Previous, out.Err = m.store.Get(ctx, mut.ID, true); out.Err != nil {
		return out
	}
	if out.Err = m.store.Delete(ctx, mut.ID); out.Err != nil {
		return out
	}
	m.cache.Record(mut.ID, caller)
	out.Images = len(out.Previous.Images)

	m.publish(events.EventLogDeleted, caller, mut.ID, "log deleted", nil)
	return out
}

func (m *Manager) applyRenumber(ctx context.Context, caller string, mut *types.Mutation) *types.Outcome {
	out := &types.Outcome{Kind: mut.Kind, ID: mut.NewID, Field: types.FieldID}
	if out.Err = m.conflict(mut.ID, caller); out.Err != nil {
		return out
	}
	if out.Err = m.store.Renumber(ctx, mut.ID, mut.NewID); out.Err != nil {
		return out
	}
	m.cache.Forget(mut.ID)
	m.cache.Record(mut.NewID, caller)

	if out.Entry, out.Err = m.store.Get(ctx, mut.NewID, false); out.Err != nil {
		return out
	}
	out.Previous = out.Entry.Clone()
	out.Previous.ID = mut.ID

	m.publish(events.EventLogRenumbered, caller, mut.ID, "log renumbered", map[string]string{
		"new_id": strconv.FormatInt(mut.NewID, 10),
	})
	return out
}

func (m *Manager) applyReplaceMedia(ctx context.Context, caller string, mut *types.Mutation) *types.Outcome {
	out := &types.Outcome{Kind: mut.Kind, ID: mut.ID, Field: types.FieldImage}
	if out.Err = m.conflict(mut.ID, caller); out.Err != nil {
		return out
	}
	if out.Err = m.store.ReplaceMedia(ctx, mut.ID, mut.Images); out.Err != nil {
		return out
	}
	m.cache.Record(mut.ID, caller)
	out.Images = len(mut.Images)

	m.publish(events.EventLogMediaReplaced, caller, mut.ID, "log media replaced", map[string]string{
		"images": strconv.Itoa(out.Images),
	})
	return out
}

// applyRestore unpacks the archive first, so retention after the
// pre-restore backup cannot remove it, then replaces the store contents
func (m *Manager) applyRestore(ctx context.Context, caller string, mut *types.Mutation) *types.Outcome {
	out := &types.Outcome{Kind: mut.Kind}

	unpacked, err := m.archiver.Extract(mut.Archive)
	if err != nil {
		out.Err = err
		return out
	}
	defer func() {
		if cerr := unpacked.Cleanup(); cerr != nil {
			m.logger.Warn().Err(cerr).Str("root", unpacked.Root).Msg("Failed to remove restore directory")
		}
	}()

	pre, err := m.scheduler.Run(ctx, types.TriggerRestore, "pre-restore_"+m.clock.Now().Format(backup.NameLayout))
	m.publishBackup(types.TriggerRestore, pre, err)
	if err != nil {
		out.Err = fmt.Errorf("pre-restore backup: %w", err)
		return out
	}

	if out.Restored, out.Err = m.store.RestoreFrom(ctx, unpacked.DBPath, unpacked.MediaDir); out.Err != nil {
		return out
	}
	m.cache.Purge()

	logger := log.WithArchive(mut.Archive)
	logger.Info().
		Str("requester", caller).
		Str("pre_restore", pre.Archive.Name).
		Int("entries", out.Restored).
		Msg("Logs restored")
	m.broker.Publish(&events.Event{
		Type:    events.EventLogsRestored,
		Actor:   caller,
		Message: "logs restored from " + mut.Archive,
		Metadata: map[string]string{
			"archive": mut.Archive,
			"entries": strconv.Itoa(out.Restored),
		},
	})
	return out
}

func (m *Manager) publish(t events.EventType, caller string, id int64, msg string, meta map[string]string) {
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["id"] = strconv.FormatInt(id, 10)
	m.broker.Publish(&events.Event{Type: t, Actor: caller, Message: msg, Metadata: meta})
}
