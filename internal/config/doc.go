// Package config loads pipeline documents from HCL files and translates them
// into a format-agnostic model: an ordered stage list, global variables,
// workflow rules, templates, and jobs.
//
// Templates are inheritance sources only. They live in their own collection on
// the Document and are never handed to the graph builder; Resolve folds them
// into the jobs that extend them and then discards the references.
package config
