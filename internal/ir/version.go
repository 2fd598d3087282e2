package ir

// Version constants for archived journals.
const (
	// SchemaVersion is the journal event schema version.
	SchemaVersion = "1"

	// CoreVersion is the lattice core version.
	CoreVersion = "0.1.0"
)
