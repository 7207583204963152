// Package command holds the double command registry, the operator line
// parser and the per-endpoint result vocabulary.
package command
