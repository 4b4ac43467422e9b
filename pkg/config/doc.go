/*
Package config loads the application configuration and the style files that
carry vocabularies and message templates.

Application settings come from an optional YAML file with MODLOG_* environment
overrides (cleanenv) and are checked with validator struct tags.

A style is a YAML document under the styles directory. ParseStyle compiles its
nickname tables into the closed Action, Field and verb enums and rejects any
entry whose target is unknown, so lookups at call time never see an invalid
value. Provider keeps the active style behind an atomic pointer: loading a
style replaces the reference and callers that already hold the previous one
keep a consistent view. Watcher reloads the active style when its file
changes.

	p, err := config.NewProvider("styles", "normal")
	msg := p.Current().Render("not_found", map[string]any{"id": 7})
*/
package config
