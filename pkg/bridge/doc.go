/*
Package bridge hands mutations from concurrent callers to a single serial
worker and carries each outcome back.

	caller A ─┐                     ┌─> slot A/req-1
	caller B ─┼─> intake (FIFO) ─> worker ─> slot B/req-2
	caller A ─┘                     └─> slot A/req-3

Only the worker calls the Applier, so store writes and conflict checks never
race. Callers wait on their own buffered slot for at most the configured
budget (10s by default), logging every poll interval. A caller that times
out or cancels removes its slot; when the worker later finishes that
request the reply has nowhere to go and is dropped. The worker never blocks
on a reply.

Stop closes the intake, joins the worker with a timeout and answers every
request still queued or waiting with types.ErrBridgeStopped.
*/
package bridge
