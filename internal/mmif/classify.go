package mmif

// ViewKind is the visualization a view gets.
type ViewKind string

const (
	KindNone ViewKind = ""
	KindNER  ViewKind = "NER"
	KindASR  ViewKind = "ASR"
	KindOCR  ViewKind = "OCR"
)

// Classify labels a view by the annotation types it declares. NER wins over
// ASR; a view is OCR when some contained type anchors to a video document and
// the view holds no sentences or tokens.
func Classify(m *Mmif, v *View) ViewKind {
	if v.Contains(TypeNamedEntity) {
		return KindNER
	}
	if v.Contains(TypeToken) && v.Contains(TypeTimeFrame) && v.Contains(TypeAlignment) {
		return KindASR
	}
	if v.Contains(TypeSentence) || v.Contains(TypeToken) {
		return KindNone
	}
	for _, meta := range v.Metadata.Contains {
		ref, ok := meta["document"].(string)
		if !ok {
			continue
		}
		if d, ok := m.Lookup(ref); ok && d.Is(TypeVideoDocument) {
			return KindOCR
		}
	}
	return KindNone
}

// ViewsOf returns the views of the given kind, in bundle order.
func ViewsOf(m *Mmif, kind ViewKind) []*View {
	var out []*View
	for _, v := range m.Views {
		if Classify(m, v) == kind {
			out = append(out, v)
		}
	}
	return out
}
