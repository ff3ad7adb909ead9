/*
Package ensemble connects this node to the other clusters of the ensemble.

For every remote cluster the Manager learns the member view by asking a reachable
member (or a configured seed) for its membership and keeps routes to all members
in the router. A Scheduler re-polls each cluster periodically, either at a fixed
interval or adaptively: the fuzzy controller of package fuzzy shortens the interval
when a cluster changed a lot and relaxes it towards the limit while it is stable.

The remote clusters and the scheduler are configured in a YAML file:

	scheduler:
	  kind: adaptive
	  baseline: 5s
	  increment: 10s
	  limit: 60s
	clusters:
	  - name: east
	    seeds: ["e1@10.0.1.1:8080", "10.0.1.2:8080"]
*/
package ensemble
