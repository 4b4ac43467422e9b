package command

import (
	"errors"
	"strconv"
	"strings"

	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/types"
)

// help renders the overview or the help text of one topic
func (c *call) help(rest []string) string {
	topic := "help"
	if len(rest) > 0 {
		var ok bool
		if topic, ok = c.helpTopic(rest); !ok {
			return c.say("help_unknown", map[string]any{"topic": strings.Join(rest, " ")})
		}
	}
	text, ok := c.style.Help(topic)
	if !ok {
		return c.say("help_unknown", map[string]any{"topic": topic})
	}
	return strings.TrimRight(text, "\n")
}

func (c *call) helpTopic(rest []string) (string, bool) {
	word := rest[0]
	if cmd, ok := c.style.Commands[word]; ok {
		if len(rest) > 1 {
			switch cmd {
			case config.CommandBackup:
				if v, ok := c.style.BackupVerbs[rest[1]]; ok {
					return "backup." + string(v), true
				}
			case config.CommandStyle:
				if v, ok := c.style.StyleVerbs[rest[1]]; ok {
					return "style." + string(v), true
				}
			}
		}
		return "command." + string(cmd), true
	}
	if a, ok := c.style.Actions[word]; ok {
		return "action." + string(a), true
	}
	if f, ok := c.style.Fields[word]; ok {
		return "field." + string(f), true
	}
	return "", false
}

// backup handles the backup command and its verbs
func (c *call) backup(rest []string) string {
	sched := c.backend.Scheduler()
	if sched.Running() {
		return c.say("backup_running", nil)
	}
	if len(rest) == 0 {
		return lines([]string{c.backupStatus(), c.backupList()})
	}

	verb, ok := c.style.BackupVerbs[rest[0]]
	if !ok {
		return c.say("backup_verb_unknown", map[string]any{"value": rest[0]})
	}
	args := rest[1:]

	switch verb {
	case config.BackupList:
		return c.backupList()

	case config.BackupMake:
		archive, err := c.backend.TriggerBackup(c.ctx, strings.Join(args, " "))
		if err != nil {
			return c.backupFailed(err)
		}
		return c.say("backup_success", map[string]any{"name": archive.Name})

	case config.BackupDelete:
		if len(args) != 1 {
			return c.usage("backup.delete")
		}
		archive, msg := c.archiveAt(args[0])
		if archive == nil {
			return msg
		}
		if err := c.backend.DeleteBackup(archive.Name); err != nil {
			return c.backupFailed(err)
		}
		return c.say("backup_deleted", map[string]any{"name": archive.Name})

	case config.BackupRestore:
		if len(args) != 1 {
			return c.usage("backup.restore")
		}
		archive, msg := c.archiveAt(args[0])
		if archive == nil {
			return msg
		}
		n, err := c.backend.RestoreBackup(c.ctx, archive.Name, c.caller)
		if err != nil {
			return c.backupFailed(err)
		}
		return c.say("backup_restored", map[string]any{"entries": n, "name": archive.Name})

	case config.BackupAuto:
		switch len(args) {
		case 0:
		case 1:
			on, ok := c.style.Switches[args[0]]
			if !ok {
				return c.say("backup_auto_invalid", map[string]any{"value": args[0]})
			}
			if err := sched.SetEnabled(on); err != nil {
				return c.backupFailed(err)
			}
		default:
			return c.usage("backup.auto")
		}
		return c.say("backup_auto_state", map[string]any{"auto": c.switchText(sched.Enabled())})
	}
	return c.say("backup_verb_unknown", map[string]any{"value": rest[0]})
}

func (c *call) backupStatus() string {
	st, err := c.backend.Scheduler().Status()
	if err != nil {
		return c.backupFailed(err)
	}
	last := c.say("backup_none", nil)
	if st.HasLast {
		last = st.Last.Format(types.TimeLayout)
	}
	return c.say("backup_status", map[string]any{
		"auto":  c.switchText(st.Enabled),
		"delay": st.DelayDays,
		"time":  st.Time,
		"limit": st.Limit,
		"last":  last,
	})
}

func (c *call) backupList() string {
	archives, err := c.backend.ListBackups()
	if err != nil {
		return c.backupFailed(err)
	}
	out := []string{c.say("backup_list_header", nil)}
	for i, a := range archives {
		out = append(out, c.say("backup_list_row", map[string]any{"n": i + 1, "name": a.Name, "size": a.Size}))
	}
	return lines(out)
}

// archiveAt resolves a 1-based position in the backup list. On failure the
// archive is nil and the message explains why.
func (c *call) archiveAt(tok string) (*types.BackupArchive, string) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return nil, c.say("backup_index_invalid", map[string]any{"value": tok})
	}
	archives, err := c.backend.ListBackups()
	if err != nil {
		return nil, c.backupFailed(err)
	}
	if n < 1 || n > len(archives) {
		return nil, c.say("backup_index_invalid", map[string]any{"value": tok})
	}
	return &archives[n-1], ""
}

// backupFailed renders typed errors as usual and anything else as a backup
// failure
func (c *call) backupFailed(err error) string {
	var (
		ve *types.ValidationError
		te *types.TimeoutError
		se *types.StorageError
	)
	if errors.As(err, &ve) || errors.As(err, &te) || errors.As(err, &se) ||
		errors.Is(err, types.ErrBackupRunning) || errors.Is(err, types.ErrNotFound) {
		return c.fail(err, nil)
	}
	return c.say("backup_failed", map[string]any{"detail": err.Error()})
}

func (c *call) switchText(on bool) string {
	if on {
		return c.say("switch_on", nil)
	}
	return c.say("switch_off", nil)
}

// styleCmd handles the style command and its verbs
func (c *call) styleCmd(rest []string) string {
	if len(rest) == 0 {
		return c.say("style_current", map[string]any{"name": c.style.Name})
	}
	verb, ok := c.style.StyleVerbs[rest[0]]
	if !ok {
		return c.say("style_verb_unknown", map[string]any{"value": rest[0]})
	}
	args := rest[1:]
	styles := c.backend.Styles()

	switch verb {
	case config.StyleList:
		names, err := styles.List()
		if err != nil {
			return c.fail(err, nil)
		}
		out := []string{c.say("style_list_header", nil)}
		for i, name := range names {
			out = append(out, c.say("style_list_row", map[string]any{"n": i + 1, "name": name}))
		}
		return lines(out)

	case config.StyleLoad:
		if len(args) != 1 {
			return c.usage("style.load")
		}
		name, err := c.styleName(args[0])
		if err != nil {
			return c.say("style_not_found", map[string]any{"value": args[0]})
		}
		s, err := styles.Load(name)
		if err != nil {
			return c.styleFailed(name, err)
		}
		return s.Render("style_loaded", map[string]any{"name": s.Name})

	case config.StyleReload:
		s, err := styles.Reload()
		if err != nil {
			return c.styleFailed(c.style.Name, err)
		}
		return s.Render("style_loaded", map[string]any{"name": s.Name})

	case config.StyleDelete:
		if len(args) != 1 {
			return c.usage("style.delete")
		}
		name, err := c.styleName(args[0])
		if err != nil {
			return c.say("style_not_found", map[string]any{"value": args[0]})
		}
		if err := styles.Delete(name); err != nil {
			if errors.Is(err, config.ErrStyleActive) {
				return c.say("style_active", map[string]any{"name": name})
			}
			return c.styleFailed(name, err)
		}
		return c.say("style_deleted", map[string]any{"name": name})
	}
	return c.say("style_verb_unknown", map[string]any{"value": rest[0]})
}

// styleName accepts a style name or its 1-based position in the list
func (c *call) styleName(tok string) (string, error) {
	if !allDigits.MatchString(tok) {
		return tok, nil
	}
	names, err := c.backend.Styles().List()
	if err != nil {
		return "", err
	}
	n, _ := strconv.Atoi(tok)
	if n < 1 || n > len(names) {
		return "", types.ErrNotFound
	}
	return names[n-1], nil
}

func (c *call) styleFailed(name string, err error) string {
	if errors.Is(err, types.ErrNotFound) {
		return c.say("style_not_found", map[string]any{"value": name})
	}
	return c.say("style_failed", map[string]any{"name": name, "detail": err.Error()})
}
