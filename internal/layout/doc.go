// Package layout holds the pure strategy evaluators and the path resolver
// of the canopy engine.
//
// Nothing in this package touches the filesystem: every function is a
// deterministic computation over paths, annotations, and values. That is
// what makes sibling path distinctness checkable statically, before any I/O
// occurs, and what makes whole-tree retries safe after transient failures.
package layout
