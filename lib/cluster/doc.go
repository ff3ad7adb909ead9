// Package cluster defines the identity types shared by every part of dDoc:
// clusters, members, membership views and the node configuration peers exchange
// when they join.
//
// A View is a snapshot of the member set of one cluster. Two views are compared
// with PercentageOfChange, the ratio of the symmetric difference to the union of
// their member names. The ensemble manager uses it to decide which routes to add
// or drop and the adaptive scheduler uses it as its churn input.
package cluster
