// Package synth merges the answers of several agents into one reply.
//
// A single answer is passed through verbatim. Several answers are handed to
// a synthesis agent; when none is available, or it fails, the answers are
// concatenated with attribution instead.
package synth
