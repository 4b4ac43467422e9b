package command

import (
	"context"
	"strings"

	"github.com/cuemby/modlog/pkg/backup"
	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/manager"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/cuemby/modlog/pkg/validation"
	"github.com/rs/zerolog"
)

// Backend is the part of the manager the dispatcher drives
type Backend interface {
	Style() *config.Style
	Styles() *config.Provider
	Engine(style *config.Style) *validation.Engine
	Scheduler() *backup.Scheduler

	ValidateAndStage(ctx context.Context, style *config.Style, raw validation.RawFields, caller string) (*types.Mutation, error)
	StageEdit(ctx context.Context, style *config.Style, req validation.EditRequest) (*types.Mutation, error)
	SubmitMutation(ctx context.Context, mut *types.Mutation, caller string) (*types.Outcome, error)

	QueryByID(ctx context.Context, id int64) (*types.LogEntry, error)
	QueryByField(ctx context.Context, field types.Field, value string, mode types.MatchMode, limit int) ([]*types.LogEntry, error)
	Count(ctx context.Context, field types.Field, value string, mode types.MatchMode) (int, error)
	CountAndRisk(ctx context.Context, subjectID string) (*types.RiskSummary, error)
	NthID(ctx context.Context, n int) (int64, error)

	TriggerBackup(ctx context.Context, name string) (*types.BackupArchive, error)
	ListBackups() ([]types.BackupArchive, error)
	RestoreBackup(ctx context.Context, name, caller string) (int, error)
	DeleteBackup(name string) error

	Execute(ctx context.Context, id int64) (*manager.Execution, error)
}

var _ Backend = (*manager.Manager)(nil)

// Request is one chat message addressed to the log
type Request struct {
	Text   string
	Caller string

	// Images are the message attachments keyed by their 1-based position
	Images map[int][]byte
}

// Dispatcher parses operator commands and renders their replies through
// the current style
type Dispatcher struct {
	backend Backend
	keyword string
	logger  zerolog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithKeyword replaces DefaultKeyword
func WithKeyword(k string) Option {
	return func(d *Dispatcher) { d.keyword = k }
}

// New creates a dispatcher
func New(backend Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		keyword: DefaultKeyword,
		logger:  log.WithComponent("command"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Keyword returns the command prefix
func (d *Dispatcher) Keyword() string {
	return d.keyword
}

// Handle runs one command and returns the reply. It reports false when the
// message does not start with the keyword.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (string, bool) {
	tokens := Tokenize(req.Text)
	if len(tokens) == 0 || tokens[0] != d.keyword {
		return "", false
	}

	style := d.backend.Style()
	c := &call{
		ctx:     ctx,
		backend: d.backend,
		style:   style,
		engine:  d.backend.Engine(style),
		caller:  req.Caller,
		images:  req.Images,
		args:    tokens[1:],
	}
	reply := c.dispatch()

	logger := log.WithRequester(req.Caller)
	logger.Debug().Strs("tokens", tokens).Msg("Command handled")
	return reply, true
}

// call carries one command through its handler. style and engine are fixed
// for the whole command even if the style is swapped meanwhile.
type call struct {
	ctx     context.Context
	backend Backend
	style   *config.Style
	engine  *validation.Engine
	caller  string
	images  map[int][]byte
	args    []string
}

func (c *call) dispatch() string {
	if len(c.args) == 0 {
		return c.help(nil)
	}
	head, rest := c.args[0], c.args[1:]

	if allDigits.MatchString(head) {
		return c.subjectSearch(head, rest)
	}
	if c.engine.IsAction(head) {
		return c.add(head, rest)
	}

	cmd, ok := c.style.Commands[head]
	if !ok {
		return c.say("command_unknown", map[string]any{"command": head})
	}
	switch cmd {
	case config.CommandHelp:
		return c.help(rest)
	case config.CommandDelete:
		return c.delete(rest)
	case config.CommandDetail:
		return c.detail(rest)
	case config.CommandEdit:
		return c.edit(rest)
	case config.CommandSearch:
		return c.search(rest)
	case config.CommandGet:
		return c.get(rest)
	case config.CommandExecute:
		return c.execute(rest)
	case config.CommandBackup:
		return c.backup(rest)
	case config.CommandStyle:
		return c.styleCmd(rest)
	}
	return c.say("command_unknown", map[string]any{"command": head})
}

// say renders one message in the style the command started with
func (c *call) say(key string, args map[string]any) string {
	return c.style.Render(key, args)
}

// usage renders the usage line of a help topic
func (c *call) usage(topic string) string {
	text, ok := c.style.Help(topic)
	if !ok {
		text = topic
	}
	return c.say("usage", map[string]any{"usage": strings.TrimSpace(text)})
}

func lines(parts []string) string {
	return strings.Join(parts, "\n")
}
