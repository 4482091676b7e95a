package schema

import "fmt"

// SchemaError reports an invalid annotation combination on a model type.
// It is raised at registration time; a type that fails registration cannot
// be loaded or saved at all.
type SchemaError struct {
	Type   string // model type name
	Field  string // offending field, empty for type-level problems
	Reason string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("schema: %s.%s: %s", e.Type, e.Field, e.Reason)
}

func schemaErrf(typ, field, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Type: typ, Field: field, Reason: fmt.Sprintf(format, args...)}
}
