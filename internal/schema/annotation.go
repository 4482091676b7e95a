package schema

// FieldKind classifies how a field's value relates to storage.
type FieldKind int

const (
	// KindNormal fields are serialized inline in the owning document.
	KindNormal FieldKind = iota
	// KindExternal fields live outside the owning document, as a separate
	// file or folder.
	KindExternal
	// KindImplied fields are never stored; their value is derived from the
	// owning document's filesystem path at load time.
	KindImplied
)

// String makes FieldKind satisfy the fmt.Stringer interface.
func (k FieldKind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindExternal:
		return "external"
	case KindImplied:
		return "implied"
	default:
		return "unknown"
	}
}

// NamingStrategy selects how an external field's path segment is chosen.
type NamingStrategy int

const (
	// NamingAuto derives the segment from the field identifier, verbatim.
	NamingAuto NamingStrategy = iota
	// NamingFixedPath uses the explicit relative path from the annotation.
	NamingFixedPath
)

// OutputStrategy selects the on-disk shape of an external field.
type OutputStrategy int

const (
	// OutputSingleFile stores the whole field value in exactly one file.
	OutputSingleFile OutputStrategy = iota
	// OutputFolder stores the field as a directory with one entry per child
	// element.
	OutputFolder
)

// ImpliedStrategy selects how an implied field's value is derived from the
// owning document's path.
type ImpliedStrategy int

const (
	// ImpliedFolderName takes the name of the directory containing the
	// owning document.
	ImpliedFolderName ImpliedStrategy = iota
	// ImpliedFileName takes the owning document's file name minus its
	// extension.
	ImpliedFileName
)

// FieldAnnotation is the immutable storage annotation of a single field.
// Only External and Implied fields carry one; Normal fields have none.
type FieldAnnotation struct {
	Kind     FieldKind
	Naming   NamingStrategy
	Output   OutputStrategy
	Implied  ImpliedStrategy
	Path     string // FixedPath relative path, empty otherwise
	Optional bool   // missing external resource loads to the zero value
}
