package command

import (
	"errors"
	"strings"

	"github.com/cuemby/modlog/pkg/manager"
	"github.com/cuemby/modlog/pkg/types"
)

// durationUnits maps range rejections to the style's duration table
var durationUnits = map[types.Reason]string{
	types.ReasonDurationSeconds: "s",
	types.ReasonDurationMinutes: "m",
	types.ReasonDurationHours:   "h",
	types.ReasonDurationDays:    "d",
	types.ReasonDurationWeeks:   "w",
	types.ReasonDurationMonth:   "M",
}

// fail renders err. Extra carries command context such as the log id and
// is merged under the error's own arguments.
func (c *call) fail(err error, extra map[string]any) string {
	args := map[string]any{"detail": err.Error()}
	for k, v := range extra {
		args[k] = v
	}

	var (
		ve *types.ValidationError
		ce *types.ConflictError
		le *types.LookupError
		te *types.TimeoutError
		se *types.StorageError
	)
	switch {
	case errors.As(err, &ve):
		return c.invalid(ve, args)

	case errors.As(err, &ce):
		args["id"], args["actor"] = ce.ID, ce.OtherActor
		return c.say("conflict", args)

	case errors.As(err, &le):
		args["subject"], args["group"] = le.Subject, le.Group
		if le.Detail != "" {
			args["detail"] = le.Detail
		}
		return c.say("lookup_"+string(le.Kind), args)

	case errors.As(err, &te):
		return c.say("timeout", args)

	case errors.Is(err, types.ErrIDExists):
		if errors.As(err, &se) && se.ID != 0 {
			args["id"] = se.ID
		}
		return c.say("id_exists", args)

	case errors.Is(err, types.ErrNotFound):
		return c.say("not_found", args)

	case errors.Is(err, types.ErrNoChange):
		return c.say("edit_no_change", args)

	case errors.Is(err, types.ErrBackupRunning):
		return c.say("backup_running", args)

	case errors.Is(err, manager.ErrExecuteOperator):
		return c.say("execute_operator", args)

	case errors.Is(err, manager.ErrExecuteUnsupported):
		return c.say("execute_unsupported", args)

	case errors.As(err, &se):
		return c.say("storage_error", args)
	}
	return c.say("error", args)
}

func (c *call) invalid(ve *types.ValidationError, args map[string]any) string {
	args["value"] = ve.Value
	args["field"] = string(ve.Field)
	args["detail"] = ve.Detail
	if len(ve.Known) > 0 {
		args["known"] = strings.Join(ve.Known, ", ")
	}

	switch {
	case ve.Reason == types.ReasonIdentityLength:
		args["min"], args["max"] = c.style.IdentityLength.Min, c.style.IdentityLength.Max
	case durationUnits[ve.Reason] != "":
		r := c.style.Durations[durationUnits[ve.Reason]]
		args["min"], args["max"] = r.Min, r.Max
	}
	return c.say(string(ve.Reason), args)
}
