// Package model holds the shapes shared by the feed, the collections and the UI.
//
// A Record is one decoded row, kept as a map so unknown columns and embedded
// relations survive untouched. The typed accessors tolerate the loose JSON
// the backend returns: ids may arrive as numbers or strings, timestamps
// with or without a zone.
//
// Event is a closed set (Insert, Update, Delete, Unknown). Unknown stands
// for anything that cannot be folded in place and tells a collection to
// reload.
package model
