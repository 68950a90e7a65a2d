// Package transform converts records between their struct, mapping, and JSON
// text representations, using the column metadata declared in bun struct tags.
package transform
