/*
Package coordinator drives the membership lifecycle of a dDoc node.

A Coordinator is the single authority over the routes of the local cluster. It
consumes the events of a membership.Source and walks through the states

	Idle -> Starting -> Joining -> Operational <-> Reconnecting -> ShuttingDown -> Terminated

Events are handled on dedicated queues: one for joins (this node and peers) and one
for leaves, so events of the same kind are serialized while joins and leaves may
interleave. Peer joins are handed to a bounded worker pool and may run concurrently
for distinct peers.

Every route mutation runs inside a pause of request processing:

	pause -> mutate routes -> flush mis-owned documents -> resume

Before connecting to a new peer the coordinator waits for the configuration the peer
published (the rendezvous). The wait is abandoned once the peer is no longer a member.

Losing availability to the membership service starts a reconnection attempt. If
availability does not return within the reconnect timeout the node shuts down and
the process exits after a short grace period.
*/
package coordinator
