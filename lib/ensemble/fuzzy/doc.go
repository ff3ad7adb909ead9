// Package fuzzy implements the zero-order Sugeno controller that picks the next
// polling interval of the adaptive ensemble scheduler.
//
// Inputs:
//
//   - change: percentage of change between the last two views of a cluster (0..100)
//   - previous: the interval used for the last poll
//
// The change input is partitioned into the fuzzy sets none, low, medium and high.
// The previous interval is partitioned into short and long, measured on the band
// between Baseline and Limit. Every pair of sets forms one rule whose consequent is
// a multiple of Increment that is added to the previous interval:
//
//	           short   long
//	none       +1.0    +1.0
//	low        -0.5    -1.0
//	medium     -1.0    -1.5
//	high       -1.5    -2.0
//
// Rule strength is the product of both memberships and the output is the weighted
// average of the consequents. The result is clamped to [Baseline, Limit].
//
// The controller holds no state between calls, so the same inputs always yield
// the same interval.
package fuzzy
