// Package quorum turns the per-peer outcomes of one write's fan-out into a
// single latched success/failure decision. It succeeds as soon as the
// required number of acknowledgements arrived, fails on the first negative
// outcome, and fails once every outcome is in without reaching the threshold.
package quorum
