// Package compute provides numeric host operations for widgets, backed by
// gonum.
//
// Operations:
//   - compute.stats: summary statistics over a numeric series
//   - compute.correlation: Pearson correlation of two equal-length series
package compute
