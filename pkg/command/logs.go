package command

import (
	"errors"
	"math"
	"sort"
	"strconv"

	"github.com/cuemby/modlog/pkg/types"
	"github.com/cuemby/modlog/pkg/validation"
)

// add records a new log: <action> <subject> <reason> <group> [duration]
func (c *call) add(action string, rest []string) string {
	engine := c.engine
	if len(rest) < 3 || len(rest) > 4 {
		canonical, _ := engine.Action(action)
		return c.usage("action." + string(canonical))
	}

	raw := validation.RawFields{
		Subject: rest[0],
		Action:  action,
		Reason:  rest[1],
		Group:   rest[2],
		Images:  c.images,
	}
	if len(rest) == 4 {
		raw.Duration = rest[3]
	}

	mut, err := c.backend.ValidateAndStage(c.ctx, c.style, raw, c.caller)
	if err != nil {
		return c.fail(err, nil)
	}
	out, err := c.backend.SubmitMutation(c.ctx, mut, c.caller)
	if err != nil {
		return c.fail(err, nil)
	}

	args := map[string]any{
		"id":      out.ID,
		"images":  out.Images,
		"subject": out.Entry.Subject,
		"count":   "?",
		"risk":    "?",
	}
	if sum, err := c.backend.CountAndRisk(c.ctx, out.Entry.SubjectID()); err == nil {
		args["count"], args["risk"] = sum.Count, formatRisk(sum.Risk)
	}
	return c.say("add_success", args)
}

// delete removes each listed id and reports one line per id
func (c *call) delete(rest []string) string {
	if len(rest) == 0 {
		return c.usage("command.delete")
	}
	engine := c.engine
	var out []string
	for _, tok := range rest {
		id, err := engine.ID(tok)
		if err != nil {
			out = append(out, c.fail(err, nil))
			continue
		}
		res, err := c.backend.SubmitMutation(c.ctx, &types.Mutation{Kind: types.MutationDelete, ID: id}, c.caller)
		if err != nil {
			out = append(out, c.fail(err, map[string]any{"id": id}))
			continue
		}
		out = append(out, c.say("delete_success", map[string]any{"id": id, "images": res.Images}))
	}
	return lines(out)
}

func (c *call) detail(rest []string) string {
	if len(rest) != 1 {
		return c.usage("command.detail")
	}
	id, err := c.engine.ID(rest[0])
	if err != nil {
		return c.fail(err, nil)
	}
	return c.showDetail(id)
}

func (c *call) showDetail(id int64) string {
	entry, err := c.backend.QueryByID(c.ctx, id)
	if err != nil {
		return c.fail(err, map[string]any{"id": id})
	}

	out := []string{c.say("detail", c.entryArgs(entry))}
	indexes := make([]int, 0, len(entry.Images))
	for i := range entry.Images {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		out = append(out, c.say("detail_image", map[string]any{"index": i, "path": entry.Images[i]}))
	}
	return lines(out)
}

// edit changes one field: <id> <field> [value] [duration]
func (c *call) edit(rest []string) string {
	if len(rest) < 2 || len(rest) > 4 {
		return c.usage("command.edit")
	}
	id, err := c.engine.ID(rest[0])
	if err != nil {
		return c.fail(err, nil)
	}

	req := validation.EditRequest{ID: id, Field: rest[1], Images: c.images}
	if len(rest) >= 3 {
		req.Value = rest[2]
	}
	if len(rest) == 4 {
		req.Duration = rest[3]
	}
	extra := map[string]any{"id": id, "field": rest[1], "old": req.Value}

	mut, err := c.backend.StageEdit(c.ctx, c.style, req)
	if err != nil {
		return c.fail(err, extra)
	}
	out, err := c.backend.SubmitMutation(c.ctx, mut, c.caller)
	if err != nil {
		return c.fail(err, extra)
	}

	switch out.Kind {
	case types.MutationRenumber:
		return c.say("renumber_success", map[string]any{"old": id, "new": out.ID})
	case types.MutationReplaceMedia:
		return c.say("media_replaced", map[string]any{"id": id, "images": out.Images})
	}

	msgs := []string{c.changed(out, out.Field)}
	if _, ok := mut.Changes[types.FieldDuration]; ok && out.Field != types.FieldDuration {
		msgs = append(msgs, c.changed(out, types.FieldDuration))
	}
	return lines(msgs)
}

func (c *call) changed(out *types.Outcome, f types.Field) string {
	return c.say("edit_success", map[string]any{
		"id":    out.ID,
		"field": string(f),
		"old":   c.fieldText(out.Previous, f),
		"new":   c.fieldText(out.Entry, f),
	})
}

// search runs <field> <value> [limit]; an id search shows the record
func (c *call) search(rest []string) string {
	if len(rest) < 2 || len(rest) > 3 {
		return c.usage("command.search")
	}
	limit := ""
	if len(rest) == 3 {
		limit = rest[2]
	}
	engine := c.engine
	q, err := engine.StageSearch(c.ctx, rest[0], rest[1], limit)
	if err != nil {
		return c.fail(err, nil)
	}
	if q.Field == types.FieldID {
		id, err := engine.ID(q.Value)
		if err != nil {
			return c.fail(err, nil)
		}
		return c.showDetail(id)
	}
	return c.list(q)
}

// subjectSearch runs the shorthand <subject id> [limit]
func (c *call) subjectSearch(subject string, rest []string) string {
	if len(rest) > 1 {
		return c.usage("command.search")
	}
	limit := ""
	if len(rest) == 1 {
		limit = rest[0]
	}
	q, err := c.engine.StageSubjectSearch(subject, limit)
	if err != nil {
		return c.fail(err, nil)
	}
	return c.list(q)
}

func (c *call) list(q *validation.Query) string {
	entries, err := c.backend.QueryByField(c.ctx, q.Field, q.Value, q.Mode, q.Limit)
	if err != nil {
		return c.fail(err, nil)
	}
	if len(entries) == 0 {
		return c.say("search_empty", map[string]any{"field": string(q.Field), "value": q.Value})
	}
	count, err := c.backend.Count(c.ctx, q.Field, q.Value, q.Mode)
	if err != nil {
		return c.fail(err, nil)
	}

	risk := ""
	if q.Field == types.FieldSubject && q.Mode == types.MatchPrefix {
		if sum, err := c.backend.CountAndRisk(c.ctx, q.Value); err == nil {
			risk = c.say("search_risk", map[string]any{"risk": formatRisk(sum.Risk), "state": string(sum.State)})
		}
	}

	out := []string{c.say("search_"+q.Mode.String(), map[string]any{
		"field": string(q.Field),
		"value": q.Value,
		"limit": q.Limit,
		"count": count,
		"risk":  risk,
	})}
	for _, e := range entries {
		out = append(out, c.say("search_row", c.entryArgs(e)))
	}
	return lines(out)
}

// get shows the n-th newest record, or the |n|-th oldest for negative n
func (c *call) get(rest []string) string {
	if len(rest) > 1 {
		return c.usage("command.get")
	}
	n := 0
	if len(rest) == 1 {
		v, err := strconv.Atoi(rest[0])
		if !signedInt.MatchString(rest[0]) || err != nil {
			return c.say("get_format", map[string]any{"value": rest[0]})
		}
		n = v
	}
	id, err := c.backend.NthID(c.ctx, n)
	if errors.Is(err, types.ErrNotFound) {
		return c.say("get_empty", map[string]any{"n": n})
	}
	if err != nil {
		return c.fail(err, nil)
	}
	return c.showDetail(id)
}

// execute applies a record in the chat groups
func (c *call) execute(rest []string) string {
	if len(rest) != 1 {
		return c.usage("command.execute")
	}
	id, err := c.engine.ID(rest[0])
	if err != nil {
		return c.fail(err, nil)
	}
	entry, err := c.backend.QueryByID(c.ctx, id)
	if err != nil {
		return c.fail(err, map[string]any{"id": id})
	}

	base := map[string]any{"id": id, "action": string(entry.Action), "subject": entry.Subject}
	exe, err := c.backend.Execute(c.ctx, id)
	if err != nil {
		return c.fail(err, base)
	}

	out := make([]string, 0, len(exe.Groups))
	for _, g := range exe.Groups {
		args := map[string]any{
			"action":  string(entry.Action),
			"subject": entry.Subject,
			"group":   types.Annotate(g.Group, c.style.Groups[g.Group]),
			"seconds": exe.Seconds,
		}
		if g.Err != nil {
			args["detail"] = g.Err.Error()
			out = append(out, c.say("execute_failed", args))
			continue
		}
		out = append(out, c.say("execute_done", args))
	}
	return lines(out)
}

func (c *call) entryArgs(e *types.LogEntry) map[string]any {
	return map[string]any{
		"id":       e.ID,
		"time":     e.Value(types.FieldTime),
		"subject":  e.Subject,
		"action":   string(e.Action),
		"duration": c.fieldText(e, types.FieldDuration),
		"group":    e.Group,
		"operator": e.Operator,
		"reason":   e.Reason,
		"images":   len(e.Images),
	}
}

func (c *call) fieldText(e *types.LogEntry, f types.Field) string {
	if e == nil {
		return ""
	}
	v := e.Value(f)
	if v == "" && f == types.FieldDuration {
		return c.say("no_duration", nil)
	}
	return v
}

func formatRisk(r float64) string {
	return strconv.FormatFloat(math.Round(r*100)/100, 'f', -1, 64)
}
