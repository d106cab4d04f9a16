// Package logtail reads the end of the clanhub log file for display in the
// console.
//
// Tail seeks backwards from the end of the file in fixed chunks, so a large
// log is never read in full. Classify assigns a display severity to a line
// from its wording.
package logtail
