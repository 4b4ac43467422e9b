// Package chat defines the chat transport contract used for member lookups,
// group actions and notifications, plus an in-memory StaticClient.
package chat
