// Package capability owns the set of resident capability providers.
//
// A capability is a class of functionality (vision, speech, embedding...)
// backed by an interchangeable provider. Providers are built on demand by a
// Factory, retained while leased, and evicted when a caller releases them.
package capability

import (
	"context"
	"strings"
)

// ID names a capability. The set is closed: every valid ID is listed in All.
type ID string

const (
	Text            ID = "text"
	Vision          ID = "vision"
	SpeechInput     ID = "speech_input"
	SpeechOutput    ID = "speech_output"
	Video           ID = "video"
	Document        ID = "document"
	AudioGeneration ID = "audio_generation"
	Embedding       ID = "embedding"
)

// All lists every capability in a fixed order.
var All = []ID{Text, Vision, SpeechInput, SpeechOutput, Video, Document, AudioGeneration, Embedding}

var descriptions = map[ID]string{
	Text:            "general reasoning, conversation, analysis",
	Vision:          "image analysis, object detection, captioning",
	SpeechInput:     "convert speech to text",
	SpeechOutput:    "convert text to speech",
	Video:           "video analysis and processing",
	Document:        "PDF and document text extraction",
	AudioGeneration: "create music or sounds",
	Embedding:       "search, similarity, memory operations",
}

func (id ID) String() string { return string(id) }

// Description is a short human-readable summary used in prompts.
func (id ID) Description() string { return descriptions[id] }

// Valid reports whether id is one of the known capabilities.
func (id ID) Valid() bool {
	for _, known := range All {
		if id == known {
			return true
		}
	}
	return false
}

// Parse maps a free-form name to an ID. Matching ignores case and treats
// '-' and ' ' like '_'.
func Parse(name string) (ID, bool) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	id := ID(norm)
	if id.Valid() {
		return id, true
	}
	return "", false
}

// Set is an unordered collection of capability ids.
type Set map[ID]struct{}

func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Add(id ID) { s[id] = struct{}{} }

func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in All order.
func (s Set) Sorted() []ID {
	out := make([]ID, 0, len(s))
	for _, id := range All {
		if s.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Handle is the opaque backend of a provider. Handlers type-assert it to
// the narrow interface they need.
type Handle any

// Factory constructs provider handles. Build may be slow.
type Factory interface {
	Build(ctx context.Context, id ID) (Handle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, id ID) (Handle, error)

func (f FactoryFunc) Build(ctx context.Context, id ID) (Handle, error) { return f(ctx, id) }

// Interfaces implemented by provider handles.

type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL, instruction string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Synthesizer interface {
	// Synthesize renders text to an audio file and returns its path.
	Synthesize(ctx context.Context, text string) (string, error)
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is implemented by embedding handles with a backing vector store.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

type DocumentReader interface {
	ReadDocument(ctx context.Context, path string) (string, error)
}
