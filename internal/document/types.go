package document

// Type is a document type definition: the published versions, the behaviour
// bag new documents start from, and creation defaults.
type Type struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Client string `json:"_client,omitempty"`

	// DefaultState, when set, is the behaviour state newly created documents
	// start in.
	DefaultState string `json:"defaultState,omitempty"`

	// CreateOnNew forces documents of this type to be persisted immediately
	// instead of lazily on first commit.
	CreateOnNew bool `json:"createOnNew,omitempty"`

	// CurrentVersion maps a run mode ("live", "test") to a version name.
	CurrentVersion map[string]string `json:"currentVersion,omitempty"`
	Versions       []TypeVersion     `json:"versions,omitempty"`

	Behaviours *Behaviours    `json:"behaviours,omitempty"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// TypeVersion is one published version of a type. Content holds the JSON
// snapshot of the type definition as of that version.
type TypeVersion struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// VersionNamed returns the version with the given name, or nil.
func (t *Type) VersionNamed(name string) *TypeVersion {
	for i := range t.Versions {
		if t.Versions[i].Name == name {
			return &t.Versions[i]
		}
	}
	return nil
}
