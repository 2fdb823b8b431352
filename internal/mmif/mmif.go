package mmif

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Vocabulary bases used in @type URIs.
const (
	ClamsVocab = "http://mmif.clams.ai/vocabulary/"
	LappsVocab = "http://vocab.lappsgrid.org/"
)

// Short names of the annotation and document types the renderer understands.
const (
	TypeVideoDocument = "VideoDocument"
	TypeAudioDocument = "AudioDocument"
	TypeImageDocument = "ImageDocument"
	TypeTextDocument  = "TextDocument"
	TypeBoundingBox   = "BoundingBox"
	TypeTimePoint     = "TimePoint"
	TypeTimeFrame     = "TimeFrame"
	TypeAlignment     = "Alignment"
	TypeParagraph     = "Paragraph"
	TypeSentence      = "Sentence"
	TypeToken         = "Token"
	TypeNamedEntity   = "NamedEntity"
)

// IDDelimiter separates the view id from the annotation id in qualified ids.
const IDDelimiter = ":"

var lappsTypes = map[string]bool{
	TypeParagraph:   true,
	TypeSentence:    true,
	TypeToken:       true,
	TypeNamedEntity: true,
}

// AtType is the full @type URI of an annotation or document.
type AtType string

// Vocab returns the canonical URI for a short type name.
func Vocab(short string) AtType {
	if lappsTypes[short] {
		return AtType(LappsVocab + short)
	}
	return AtType(ClamsVocab + short + "/v1")
}

// ShortName strips the vocabulary prefix and version suffix,
// e.g. ".../BoundingBox/v1" becomes "BoundingBox".
func (t AtType) ShortName() string {
	s := strings.TrimRight(string(t), "/")
	parts := strings.Split(s, "/")
	if len(parts) == 0 {
		return s
	}
	last := parts[len(parts)-1]
	if isVersion(last) && len(parts) > 1 {
		last = parts[len(parts)-2]
	}
	return last
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// Properties holds an annotation's property map as decoded from JSON.
type Properties map[string]any

// String returns a string property.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns a numeric property.
func (p Properties) Float(key string) (float64, bool) {
	return Number(p[key])
}

// Number converts a decoded JSON number (or a Go numeric literal) to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Strings returns a list-of-strings property.
func (p Properties) Strings(key string) ([]string, bool) {
	switch v := p[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Annotation is a typed annotation or a top-level document.
type Annotation struct {
	Type       AtType     `json:"@type"`
	Properties Properties `json:"properties"`

	// Parent is the id of the owning view; empty for top-level documents.
	Parent string `json:"-"`
}

// ID returns the annotation's local id.
func (a *Annotation) ID() string {
	id, _ := a.Properties.String("id")
	return id
}

// LongID returns the view-qualified id, or the plain id for documents.
func (a *Annotation) LongID() string {
	id := a.ID()
	if a.Parent == "" || strings.Contains(id, IDDelimiter) {
		return id
	}
	return a.Parent + IDDelimiter + id
}

// Is reports whether the annotation has the given short type name.
func (a *Annotation) Is(short string) bool {
	return a.Type.ShortName() == short
}

// Location returns the document location as a POSIX path, stripping a
// file:// scheme when present.
func (a *Annotation) Location() string {
	loc, _ := a.Properties.String("location")
	return URLToPath(loc)
}

// TextValue returns the text carried by a text document, either as a
// {"@value": ...} object, a plain string, or the legacy text_value key.
func (a *Annotation) TextValue() string {
	if s, ok := a.Properties.String("text_value"); ok && s != "" {
		return s
	}
	switch v := a.Properties["text"].(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["@value"].(string); ok {
			return s
		}
	}
	return ""
}

// URLToPath strips the file:// scheme from a location.
func URLToPath(loc string) string {
	if strings.HasPrefix(loc, "file:///") {
		return loc[len("file://"):]
	}
	return loc
}

// ViewMetadata describes the app that produced a view and what it contains.
type ViewMetadata struct {
	App       string                    `json:"app,omitempty"`
	Timestamp string                    `json:"timestamp,omitempty"`
	Contains  map[AtType]map[string]any `json:"contains,omitempty"`
	Error     map[string]any            `json:"error,omitempty"`
}

// View is one analysis step's ordered annotations.
type View struct {
	ID          string        `json:"id"`
	Metadata    ViewMetadata  `json:"metadata"`
	Annotations []*Annotation `json:"annotations"`

	byID map[string]*Annotation
}

// NewView returns an empty view produced by app.
func NewView(id, app string) *View {
	return &View{
		ID:       id,
		Metadata: ViewMetadata{App: app, Contains: map[AtType]map[string]any{}},
		byID:     map[string]*Annotation{},
	}
}

// Add appends an annotation of the given short type and registers the type in
// the view's contains metadata.
func (v *View) Add(short string, props Properties) *Annotation {
	a := &Annotation{Type: Vocab(short), Properties: props, Parent: v.ID}
	v.Annotations = append(v.Annotations, a)
	if v.byID == nil {
		v.byID = map[string]*Annotation{}
	}
	v.byID[a.ID()] = a
	if v.Metadata.Contains == nil {
		v.Metadata.Contains = map[AtType]map[string]any{}
	}
	if _, ok := v.Metadata.Contains[a.Type]; !ok {
		v.Metadata.Contains[a.Type] = map[string]any{}
	}
	return a
}

// SetContains sets a metadata key for a contained type, e.g. timeUnit.
func (v *View) SetContains(short, key string, value any) {
	if v.Metadata.Contains == nil {
		v.Metadata.Contains = map[AtType]map[string]any{}
	}
	t := v.typeURI(short)
	m := v.Metadata.Contains[t]
	if m == nil {
		m = map[string]any{}
		v.Metadata.Contains[t] = m
	}
	m[key] = value
}

func (v *View) typeURI(short string) AtType {
	for t := range v.Metadata.Contains {
		if t.ShortName() == short {
			return t
		}
	}
	return Vocab(short)
}

// Contains reports whether the view declares annotations of the short type.
func (v *View) Contains(short string) bool {
	_, ok := v.ContainsMeta(short)
	return ok
}

// ContainsMeta returns the contains metadata for the short type.
func (v *View) ContainsMeta(short string) (map[string]any, bool) {
	for t, meta := range v.Metadata.Contains {
		if t.ShortName() == short {
			return meta, true
		}
	}
	return nil, false
}

// Annotation returns the annotation with the given local id.
func (v *View) Annotation(id string) (*Annotation, bool) {
	a, ok := v.byID[id]
	return a, ok
}

// AnnotationsOf returns the view's annotations of the short type, in order.
func (v *View) AnnotationsOf(short string) []*Annotation {
	var out []*Annotation
	for _, a := range v.Annotations {
		if a.Is(short) {
			out = append(out, a)
		}
	}
	return out
}

// HasError reports whether the producing app recorded an error.
func (v *View) HasError() bool {
	_, ok := v.Metadata.Error["message"]
	return ok
}

// Mmif is a parsed annotation bundle.
type Mmif struct {
	Metadata  map[string]any `json:"metadata"`
	Documents []*Annotation  `json:"documents"`
	Views     []*View        `json:"views"`

	docs  map[string]*Annotation
	views map[string]*View
}

// New returns an empty bundle.
func New() *Mmif {
	return &Mmif{
		Metadata: map[string]any{"mmif": "http://mmif.clams.ai/1.0.0"},
		docs:     map[string]*Annotation{},
		views:    map[string]*View{},
	}
}

// Parse decodes a serialized bundle.
func Parse(data []byte) (*Mmif, error) {
	var m Mmif
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mmif: %w", err)
	}
	m.reindex()
	return &m, nil
}

// Marshal serializes the bundle.
func (m *Mmif) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func (m *Mmif) reindex() {
	m.docs = make(map[string]*Annotation, len(m.Documents))
	for _, d := range m.Documents {
		if d.Properties == nil {
			d.Properties = Properties{}
		}
		m.docs[d.ID()] = d
	}
	m.views = make(map[string]*View, len(m.Views))
	for _, v := range m.Views {
		v.byID = make(map[string]*Annotation, len(v.Annotations))
		for _, a := range v.Annotations {
			if a.Properties == nil {
				a.Properties = Properties{}
			}
			a.Parent = v.ID
			v.byID[a.ID()] = a
		}
		m.views[v.ID] = v
	}
}

// AddDocument appends a top-level document.
func (m *Mmif) AddDocument(short string, props Properties) *Annotation {
	d := &Annotation{Type: Vocab(short), Properties: props}
	m.Documents = append(m.Documents, d)
	if m.docs == nil {
		m.docs = map[string]*Annotation{}
	}
	m.docs[d.ID()] = d
	return d
}

// AddView appends a view.
func (m *Mmif) AddView(v *View) {
	m.Views = append(m.Views, v)
	if m.views == nil {
		m.views = map[string]*View{}
	}
	m.views[v.ID] = v
}

// View returns the view with the given id.
func (m *Mmif) View(id string) (*View, bool) {
	v, ok := m.views[id]
	return v, ok
}

// Document returns the top-level document with the given id.
func (m *Mmif) Document(id string) (*Annotation, bool) {
	d, ok := m.docs[id]
	return d, ok
}

// DocumentsOf returns the top-level documents of the short type.
func (m *Mmif) DocumentsOf(short string) []*Annotation {
	var out []*Annotation
	for _, d := range m.Documents {
		if d.Is(short) {
			out = append(out, d)
		}
	}
	return out
}

// Lookup resolves an id. A view-qualified id ("v1:tp3") resolves within that
// view; a plain id is looked up among documents, then every view in order.
func (m *Mmif) Lookup(id string) (*Annotation, bool) {
	if viewID, local, ok := strings.Cut(id, IDDelimiter); ok {
		v, ok := m.views[viewID]
		if !ok {
			return nil, false
		}
		return v.Annotation(local)
	}
	if d, ok := m.docs[id]; ok {
		return d, true
	}
	for _, v := range m.Views {
		if a, ok := v.Annotation(id); ok {
			return a, true
		}
	}
	return nil, false
}

// Resolve looks up ref relative to the view it appears in: a plain id is
// tried in that view first.
func (m *Mmif) Resolve(ref string, from *View) (*Annotation, bool) {
	if from != nil && !strings.Contains(ref, IDDelimiter) {
		if a, ok := from.Annotation(ref); ok {
			return a, true
		}
	}
	return m.Lookup(ref)
}

// Alignments returns the alignment annotations, across all views, whose
// endpoints have the short types a and b in either direction.
func (m *Mmif) Alignments(a, b string) []*Annotation {
	var out []*Annotation
	for _, v := range m.Views {
		if !v.Contains(TypeAlignment) {
			continue
		}
		for _, al := range v.AnnotationsOf(TypeAlignment) {
			src, okS := al.Properties.String("source")
			tgt, okT := al.Properties.String("target")
			if !okS || !okT {
				continue
			}
			s, okS := m.Resolve(src, v)
			t, okT := m.Resolve(tgt, v)
			if !okS || !okT {
				continue
			}
			if (s.Is(a) && t.Is(b)) || (s.Is(b) && t.Is(a)) {
				out = append(out, al)
			}
		}
	}
	return out
}
