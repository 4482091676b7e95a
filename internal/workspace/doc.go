// Package workspace recomposes filesystem trees into annotated models and
// decomposes models back into trees.
//
// # Documents
//
// A Document binds one model value to one resolved path. Loading a document
// binds its path first, then populates inline fields from its YAML file,
// recursively loads External children as their own Documents, and derives
// Implied fields from the document's own path. Saving mirrors this: inline
// fields are written atomically (temp file + rename), External children
// recurse, Implied values are never written.
//
// # Workspace and identity
//
// The Workspace owns the identity map: at most one live Document per
// resolved path. Loads of an already-loaded path short-circuit to the
// existing Document; two fields or two instances claiming the same path
// within one save fail with *PathConflictError. Concurrent loads of the
// same path are deduplicated with singleflight; sibling folder entries are
// written concurrently (their paths are disjoint by construction) with the
// identity map as the only mutex-guarded shared state.
//
// # On-disk layout
//
// A model node with logical path L keeps its inline fields in the document
// file L+ext and its external children under the directory L/:
//
//	root/
//	  vehicle.canopy.yaml        inline fields of the root
//	  ecus/                      external folder field
//	    front_left/              directory entry (folder-name implied)
//	      ecu.canopy.yaml
//	      ports.canopy.yaml      single-file external of the entry
//	  services/
//	    telemetry.canopy.yaml    file entry (file-name implied)
//
// # Failure policy
//
// A folder save that fails midway keeps the entries already written and
// reports them in *PartialWriteError; retrying the whole save is safe
// because path resolution is deterministic. A required external resource
// missing at load fails with *MissingExternalResourceError; optional fields
// load their zero value instead.
package workspace
