package compare

// FileKind is the coarse classification of a version's source file,
// assigned by the upstream extraction service.
type FileKind string

const (
	KindPDF   FileKind = "pdf"
	KindWord  FileKind = "word"
	KindImage FileKind = "image"
	KindOther FileKind = "other"
)

// ParseFileKind maps a stored kind string onto the closed variant.
// Unknown values collapse to KindOther.
func ParseFileKind(raw string) FileKind {
	switch FileKind(raw) {
	case KindPDF, KindWord, KindImage:
		return FileKind(raw)
	default:
		return KindOther
	}
}

// DisplayName returns the human-readable kind label. The switch is
// exhaustive over the variant so a new kind is a compile-visible
// addition here, not a stray string comparison elsewhere.
func (k FileKind) DisplayName() string {
	switch k {
	case KindPDF:
		return "PDF Document"
	case KindWord:
		return "Word Document"
	case KindImage:
		return "Image"
	case KindOther:
		return "Other"
	default:
		return "Other"
	}
}
