/*
Package supervisor runs at most one child process at a time and streams its
lifecycle and output as events.

A Supervisor owns a single process slot. Run launches a child when the slot
is free; when a child is still alive, Run instead asks it to stop and queues
the new request as a pending restart, which is launched once the old child's
exit is observed. Only the most recent pending request survives. WriteInput
and Terminate act on the current child and are silently ignored when the
slot is idle.

All slot mutations flow through a single coordinating goroutine, fed by an
internal action channel. Exit notifications are posted onto the same channel
by per-child waiter goroutines and carry the child's launch generation; a
notification only clears the slot when its generation still matches the
slot's, so a stale notification for a replaced child can never clear a newer
one.

The supervisor does not buffer events beyond the channel's capacity, which
means the consumer must drain the event stream: an unread stream eventually
blocks the child's output pumps, and the child with them.

Terminate is best-effort. It requests an interrupt (or a forced tree kill on
Windows) and returns immediately; if the child ignores the signal, the slot
stays occupied indefinitely.
*/
package supervisor
