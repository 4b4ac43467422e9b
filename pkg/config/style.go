package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/modlog/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultStyleName is the style used when none is configured
const DefaultStyleName = "normal"

//go:embed default_style.yml
var defaultStyleYAML []byte

// Command is a top-level verb of the text command language
type Command string

const (
	CommandHelp    Command = "help"
	CommandStyle   Command = "style"
	CommandDelete  Command = "delete"
	CommandDetail  Command = "detail"
	CommandEdit    Command = "edit"
	CommandSearch  Command = "search"
	CommandBackup  Command = "backup"
	CommandExecute Command = "execute"
	CommandGet     Command = "get"
)

var commands = []Command{
	CommandHelp, CommandStyle, CommandDelete, CommandDetail, CommandEdit,
	CommandSearch, CommandBackup, CommandExecute, CommandGet,
}

// BackupVerb is a sub-command of the backup command
type BackupVerb string

const (
	BackupMake    BackupVerb = "make"
	BackupDelete  BackupVerb = "delete"
	BackupRestore BackupVerb = "restore"
	BackupAuto    BackupVerb = "auto"
	BackupList    BackupVerb = "list"
)

var backupVerbs = []BackupVerb{BackupMake, BackupDelete, BackupRestore, BackupAuto, BackupList}

// StyleVerb is a sub-command of the style command
type StyleVerb string

const (
	StyleList   StyleVerb = "list"
	StyleLoad   StyleVerb = "load"
	StyleReload StyleVerb = "reload"
	StyleDelete StyleVerb = "delete"
)

var styleVerbs = []StyleVerb{StyleList, StyleLoad, StyleReload, StyleDelete}

// Range is an inclusive numeric bound
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies in the range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// RiskWeight scores records of one action. Occurrences overrides Normal when
// the record is the n-th of the subject's whole history, counted from 1.
type RiskWeight struct {
	Normal      float64         `yaml:"normal"`
	Occurrences map[int]float64 `yaml:"occurrences"`
}

// styleFile is the on-disk shape of a style
type styleFile struct {
	IdentityLength    Range                 `yaml:"identity_length"`
	SearchLimit       int                   `yaml:"search_limit"`
	RequireEvidence   bool                  `yaml:"require_evidence"`
	Actions           map[string]string     `yaml:"actions"`
	Fields            map[string]string     `yaml:"fields"`
	Commands          map[string]string     `yaml:"commands"`
	BackupVerbs       map[string]string     `yaml:"backup_verbs"`
	StyleVerbs        map[string]string     `yaml:"style_verbs"`
	Switches          map[string]bool       `yaml:"switches"`
	Operators         map[string]string     `yaml:"operators"`
	OperatorNicknames map[string]string     `yaml:"operator_nicknames"`
	FormerOperators   []string              `yaml:"former_operators"`
	Groups            map[string]string     `yaml:"groups"`
	GroupNicknames    map[string]string     `yaml:"group_nicknames"`
	RiskWeights       map[string]RiskWeight `yaml:"risk_weights"`
	Durations         map[string]Range      `yaml:"durations"`
	Messages          map[string]string     `yaml:"messages"`
	Help              map[string]string     `yaml:"help"`
}

// Style is a validated, read-only vocabulary and message set. It is never
// mutated after ParseStyle returns; reloading produces a new Style.
type Style struct {
	Name string

	IdentityLength  Range
	SearchLimit     int
	RequireEvidence bool

	Actions           map[string]types.Action
	Fields            map[string]types.Field
	Commands          map[string]Command
	BackupVerbs       map[string]BackupVerb
	StyleVerbs        map[string]StyleVerb
	Switches          map[string]bool
	Operators         map[string]string
	OperatorNicknames map[string]string
	FormerOperators   map[string]bool
	Groups            map[string]string
	GroupNicknames    map[string]string
	RiskWeights       map[types.Action]RiskWeight
	Durations         map[string]Range

	messages map[string]string
	help     map[string]string
}

// DefaultStyle returns the embedded default style
func DefaultStyle() *Style {
	s, err := ParseStyle(DefaultStyleName, defaultStyleYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default style is invalid: %v", err))
	}
	return s
}

// ParseStyle decodes and validates a style document. Nickname tables whose
// targets fall outside the closed vocabularies are rejected here.
func ParseStyle(name string, data []byte) (*Style, error) {
	var f styleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse style %s: %w", name, err)
	}

	s := &Style{
		Name:              name,
		IdentityLength:    f.IdentityLength,
		SearchLimit:       f.SearchLimit,
		RequireEvidence:   f.RequireEvidence,
		Actions:           make(map[string]types.Action),
		Fields:            make(map[string]types.Field),
		Commands:          make(map[string]Command),
		BackupVerbs:       make(map[string]BackupVerb),
		StyleVerbs:        make(map[string]StyleVerb),
		Switches:          copyMap(f.Switches),
		Operators:         copyMap(f.Operators),
		OperatorNicknames: copyMap(f.OperatorNicknames),
		FormerOperators:   make(map[string]bool),
		Groups:            copyMap(f.Groups),
		GroupNicknames:    copyMap(f.GroupNicknames),
		RiskWeights:       make(map[types.Action]RiskWeight),
		Durations:         make(map[string]Range),
		messages:          copyMap(f.Messages),
		help:              copyMap(f.Help),
	}

	if s.IdentityLength.Min <= 0 || s.IdentityLength.Max < s.IdentityLength.Min {
		s.IdentityLength = Range{Min: 5, Max: 11}
	}
	if s.SearchLimit <= 0 {
		s.SearchLimit = 10
	}

	for nick, target := range f.Actions {
		a := types.Action(target)
		if !a.Valid() {
			return nil, fmt.Errorf("style %s: action nickname %q maps to unknown action %q", name, nick, target)
		}
		s.Actions[nick] = a
	}
	for nick, target := range f.Fields {
		fd := types.Field(target)
		if !fd.Valid() {
			return nil, fmt.Errorf("style %s: field nickname %q maps to unknown field %q", name, nick, target)
		}
		s.Fields[nick] = fd
	}
	for nick, target := range f.Commands {
		c := Command(target)
		if !contains(commands, c) {
			return nil, fmt.Errorf("style %s: command nickname %q maps to unknown command %q", name, nick, target)
		}
		s.Commands[nick] = c
	}
	for nick, target := range f.BackupVerbs {
		v := BackupVerb(target)
		if !contains(backupVerbs, v) {
			return nil, fmt.Errorf("style %s: backup nickname %q maps to unknown verb %q", name, nick, target)
		}
		s.BackupVerbs[nick] = v
	}
	for nick, target := range f.StyleVerbs {
		v := StyleVerb(target)
		if !contains(styleVerbs, v) {
			return nil, fmt.Errorf("style %s: style nickname %q maps to unknown verb %q", name, nick, target)
		}
		s.StyleVerbs[nick] = v
	}
	for nick, id := range f.OperatorNicknames {
		if _, ok := s.Operators[id]; !ok {
			return nil, fmt.Errorf("style %s: operator nickname %q maps to unlisted operator %s", name, nick, id)
		}
	}
	for nick, id := range f.GroupNicknames {
		if _, ok := s.Groups[id]; !ok {
			return nil, fmt.Errorf("style %s: group nickname %q maps to unlisted group %s", name, nick, id)
		}
	}
	for _, id := range f.FormerOperators {
		s.FormerOperators[id] = true
	}
	for action, w := range f.RiskWeights {
		a := types.Action(action)
		if !a.Valid() {
			return nil, fmt.Errorf("style %s: risk weight for unknown action %q", name, action)
		}
		s.RiskWeights[a] = w
	}
	for unit, r := range f.Durations {
		if !strings.Contains(durationUnits, unit) || len(unit) != 1 {
			return nil, fmt.Errorf("style %s: unknown duration unit %q", name, unit)
		}
		s.Durations[unit] = r
	}
	for _, unit := range durationUnits {
		if _, ok := s.Durations[string(unit)]; !ok {
			s.Durations[string(unit)] = defaultDurations[string(unit)]
		}
	}

	return s, nil
}

// durationUnits are seconds, minutes, hours, days, weeks and the month sentinel
const durationUnits = "smhdwM"

var defaultDurations = map[string]Range{
	"s": {Min: 1, Max: 60},
	"m": {Min: 1, Max: 60},
	"h": {Min: 1, Max: 720},
	"d": {Min: 1, Max: 30},
	"w": {Min: 1, Max: 4.28},
	"M": {Min: 1, Max: 1},
}

// Weight returns the risk weight of action when it is the n-th entry of a
// subject's history
func (s *Style) Weight(action types.Action, position int) (float64, bool) {
	w, ok := s.RiskWeights[action]
	if !ok {
		return 0, false
	}
	if v, ok := w.Occurrences[position]; ok {
		return v, true
	}
	return w.Normal, true
}

// IsOperator reports whether id is in the privileged operator set
func (s *Style) IsOperator(id string) bool {
	_, ok := s.Operators[id]
	return ok
}

// OperatorName returns the annotated operator identity, or id when unlisted
func (s *Style) OperatorName(id string) string {
	return types.Annotate(id, s.Operators[id])
}

// GroupIDs returns the known group ids in ascending order
func (s *Style) GroupIDs() []string {
	ids := make([]string, 0, len(s.Groups))
	for id := range s.Groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Has reports whether a message template exists for key
func (s *Style) Has(key string) bool {
	_, ok := s.messages[key]
	return ok
}

// Render formats the message template key with {name} placeholders. A
// missing template renders as the key followed by its arguments.
func (s *Style) Render(key string, args map[string]any) string {
	tmpl, ok := s.messages[key]
	if !ok {
		return fallback(key, args)
	}
	if len(args) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Help returns the help text for topic
func (s *Style) Help(topic string) (string, bool) {
	text, ok := s.help[topic]
	return text, ok
}

// HelpTopics returns the help topics in sorted order
func (s *Style) HelpTopics() []string {
	topics := make([]string, 0, len(s.help))
	for t := range s.help {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func fallback(key string, args map[string]any) string {
	if len(args) == 0 {
		return key
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(key)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, args[k])
	}
	return b.String()
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
