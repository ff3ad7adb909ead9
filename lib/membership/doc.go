// Package membership reports who belongs to the local cluster.
//
// A Source emits typed events on a single channel: ThisNodeJoined once the local
// node is a member, PeerJoined and PeerLeft for other nodes, AvailabilityLost and
// AvailabilityRestored when the local node loses or regains contact, and
// ConfigPublished when the configuration of a peer becomes known. The
// coordinator consumes the events and never calls back into the source except
// for IsMember, which it uses to abandon joins of peers that left again.
//
// Three sources exist:
//
//   - GossipSource runs hashicorp/memberlist. The node configuration travels as
//     node meta data and the local health score drives the availability events.
//   - ZookeeperSource registers an ephemeral znode per node below
//     /ddoc/<cluster>/members whose data is the node configuration. Session loss
//     drives the availability events.
//   - StaticSource is driven by method calls, for single node setups and tests.
package membership
