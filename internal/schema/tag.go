package schema

import (
	"path"
	"reflect"
	"strings"
)

// TagName is the struct tag key carrying canopy field annotations.
const TagName = "canopy"

// parseTag parses a canopy struct tag into a FieldAnnotation. An empty tag
// yields nil (Normal field).
func parseTag(typ, field, tag string) (*FieldAnnotation, error) {
	if tag == "" {
		return nil, nil
	}

	tokens := strings.Split(tag, ",")
	ann := &FieldAnnotation{}

	switch tokens[0] {
	case "external":
		ann.Kind = KindExternal
	case "implied":
		ann.Kind = KindImplied
	default:
		return nil, schemaErrf(typ, field, "annotation must start with external or implied, got %q", tokens[0])
	}

	for _, tok := range tokens[1:] {
		switch {
		case tok == "external" || tok == "implied":
			return nil, schemaErrf(typ, field, "field annotated both external and implied")
		case tok == "file" && ann.Kind == KindExternal:
			ann.Output = OutputSingleFile
		case tok == "folder" && ann.Kind == KindExternal:
			ann.Output = OutputFolder
		case tok == "folder" && ann.Kind == KindImplied:
			ann.Implied = ImpliedFolderName
		case tok == "filename" && ann.Kind == KindImplied:
			ann.Implied = ImpliedFileName
		case tok == "optional" && ann.Kind == KindExternal:
			ann.Optional = true
		case strings.HasPrefix(tok, "name=") && ann.Kind == KindExternal:
			ann.Naming = NamingFixedPath
			ann.Path = strings.TrimPrefix(tok, "name=")
		default:
			return nil, schemaErrf(typ, field, "invalid annotation token %q", tok)
		}
	}

	if ann.Naming == NamingFixedPath {
		if err := validateFixedPath(typ, field, ann.Path); err != nil {
			return nil, err
		}
	}
	return ann, nil
}

// validateFixedPath rejects explicit paths that would escape or collide with
// the owning document's subtree.
func validateFixedPath(typ, field, p string) error {
	if p == "" {
		return schemaErrf(typ, field, "fixed path annotation is empty")
	}
	if path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return schemaErrf(typ, field, "fixed path %q must be relative", p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return schemaErrf(typ, field, "fixed path %q escapes the document subtree", p)
	}
	return nil
}

// yamlKey returns the inline serialization key of a struct field, and whether
// the field is excluded from inline serialization (yaml:"-").
func yamlKey(f reflect.StructField) (key string, excluded bool) {
	tag := f.Tag.Get("yaml")
	if tag == "" {
		return strings.ToLower(f.Name), false
	}
	name := tag
	if i := strings.Index(tag, ","); i >= 0 {
		name = tag[:i]
	}
	if name == "-" {
		return strings.ToLower(f.Name), true
	}
	if name == "" {
		return strings.ToLower(f.Name), false
	}
	return name, false
}
