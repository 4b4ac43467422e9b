/*
Package command implements the operator command language used in chat.

A command is a message whose first token is the keyword ("log" by
default). Inline media codes such as [CQ:image,file=...] are dropped before
tokenizing; the attachments themselves arrive in Request.Images.

# Grammar

	log                                   help overview
	log help [topic [verb]]               help for a command, action or field
	log <subject id> [limit]              records of one subject, with risk
	log <action> <subject> <reason> <group> [duration]
	log delete <id> [id...]
	log detail <id>
	log edit <id> <field> [value] [duration]
	log search <field> <value> [limit]
	log get [n]                           n>0 newest first, n<0 oldest first
	log execute <id>
	log backup [list | make [name] | delete <n> | restore <n> | auto [on|off]]
	log style [list | load <name|n> | reload | delete <name|n>]

Every word in the grammar except the keyword is a style nickname, so
"log silence 123456 flooding main 30m" and "log mute ..." are the same
command under the default style.

# Replies

Replies are rendered from the style's message templates with {name}
placeholders. Validation failures use their Reason as the template key, so
a style can reword any rejection without code changes. The style is read
once per command; a "style load" reply is rendered in the new style.

# Usage

	d := command.New(mgr)
	reply, ok := d.Handle(ctx, command.Request{
		Text:   "log detail 12",
		Caller: "11111",
	})
	if ok {
		send(reply)
	}
*/
package command
