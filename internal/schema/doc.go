// Package schema builds the per-type annotation tables that drive canopy's
// decomposition engine.
//
// A model is any exported Go struct. Each field is classified as exactly one
// of Normal, External, or Implied:
//
//   - Normal fields are serialized inline in the owning document, using
//     ordinary yaml struct tags.
//   - External fields live outside the owning document, as a separate file
//     or as a folder of entries.
//   - Implied fields are never stored; their value is derived from the
//     owning document's filesystem path at load time.
//
// External and Implied fields are declared in the canopy struct tag and must
// be excluded from inline serialization with yaml:"-":
//
//	type Vehicle struct {
//		Name     string    `yaml:"-" canopy:"implied,folder"`
//		Schema   string    `yaml:"schema"`
//		ECUs     []ECU     `yaml:"-" canopy:"external,folder,name=ecus"`
//		Services []Service `yaml:"-" canopy:"external,folder"`
//	}
//
// Tag grammar:
//
//	canopy:"external[,file|folder][,optional][,name=<relative path>]"
//	canopy:"implied[,folder|filename]"
//
// Register walks a type's declared fields once and caches the resulting
// FieldTable, so classification is a schema-definition-time concern: invalid
// combinations (a field both external and implied, a folder of unnameable
// entries, an implied value of non-string type) fail with *SchemaError
// before any instance is ever loaded or saved.
package schema
