/*
Package validation turns operator input into storage-ready mutations.

An Engine is bound to one *config.Style and a chat.Client. Every rule reads
its vocabulary (action, field and group nicknames, duration ranges, the
privileged operator set) from that style, so swapping styles never changes
what an in-flight request sees.

# Field rules

	subject   bare id (identity_length digits) or "id（name）"; a bare id
	          is annotated with its display name in the record's group
	action    nickname resolved to mute, kick, ban or warn
	reason    non-empty and not a signed decimal number
	duration  required for mute only; <n>[.<d>]<unit>, unit in s m h d w M,
	          n inside the style range for the unit
	group     id, nickname or "id（name）" of a group listed in the style
	operator  nickname, privileged id, or member of the admin group
	time      YYYY-MM-DD HH:MM:SS, commas allowed for spaces, not in the
	          future

Every rejection is a *types.ValidationError whose Reason is also the style
message key used to render it. Collaborator failures during lookups come
back as *types.LookupError.

# Staging

StageAdd, StageEdit and StageSearch combine the field rules for each
command. The first failing rule wins. StageEdit compares the normalized
result with the current record and returns types.ErrNoChange instead of a
mutation that would not change anything.
*/
package validation
