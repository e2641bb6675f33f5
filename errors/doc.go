// Package errors provides the structured error type used throughout the
// toolkit.
//
// Every error produced by the parser or the validators carries a Kind from a
// closed set and the byte offset into the original buffer where the problem
// was detected. Callers can match on the kind with errors.Is and recover the
// offset for diagnostics.
package errors
