package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching — parsing the content and
// masking context-sensitively (e.g. values of secret-looking keys in an
// env file but not ordinary variables).
type Masker interface {
	// Name returns the unique identifier for this masker, referenced from
	// pattern groups alongside regex pattern names.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not
	// parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result.
	// Must be defensive: return original data on parse/processing errors.
	Mask(data string) string
}
