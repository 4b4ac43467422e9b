package manager

import (
	"context"
	"errors"

	"github.com/cuemby/modlog/pkg/types"
	"github.com/cuemby/modlog/pkg/validation"
)

var (
	// ErrExecuteOperator refuses to act against a current operator
	ErrExecuteOperator = errors.New("subject is an operator")

	// ErrExecuteUnsupported is returned for actions with no group effect
	ErrExecuteUnsupported = errors.New("action cannot be executed")
)

// GroupResult is the outcome of applying a record in one group
type GroupResult struct {
	Group string
	Err   error
}

// Execution reports what Execute did
type Execution struct {
	Entry   *types.LogEntry
	Seconds int64
	Groups  []GroupResult
}

// Execute applies a logged record through the chat client. A mute is
// applied in the record's group for its duration; a kick or ban in the
// record's group and then every other known group. Former operators may be
// acted on; current ones may not.
func (m *Manager) Execute(ctx context.Context, id int64) (*Execution, error) {
	entry, err := m.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if m.client == nil {
		return nil, errors.New("no chat client configured")
	}
	style := m.styles.Current()

	subject := entry.SubjectID()
	if style.IsOperator(subject) && !style.FormerOperators[subject] {
		return nil, ErrExecuteOperator
	}

	exe := &Execution{Entry: entry}
	origin := entry.GroupID()
	switch entry.Action {
	case types.ActionMute:
		if exe.Seconds, err = validation.DurationSeconds(entry.Duration); err != nil {
			return nil, err
		}
		exe.Groups = append(exe.Groups, m.perform(ctx, origin, subject, entry.Action, exe.Seconds))

	case types.ActionKick, types.ActionBan:
		exe.Groups = append(exe.Groups, m.perform(ctx, origin, subject, entry.Action, 0))
		for _, group := range style.GroupIDs() {
			if group != origin {
				exe.Groups = append(exe.Groups, m.perform(ctx, group, subject, entry.Action, 0))
			}
		}

	default:
		return nil, ErrExecuteUnsupported
	}

	m.logger.Info().
		Int64("log_id", id).
		Str("action", string(entry.Action)).
		Int("groups", len(exe.Groups)).
		Msg("Log executed")
	return exe, nil
}

func (m *Manager) perform(ctx context.Context, group, subject string, action types.Action, seconds int64) GroupResult {
	err := m.client.PerformGroupAction(ctx, group, subject, action, seconds)
	if err != nil {
		m.logger.Warn().Err(err).Str("group", group).Str("subject", subject).Msg("Group action failed")
	}
	return GroupResult{Group: group, Err: err}
}
