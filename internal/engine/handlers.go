package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/switchboard/internal/capability"
)

const searchLimit = 3

func registerDefaults(e *Engine) {
	e.Handle(capability.Vision, describeImage)
	e.Handle(capability.SpeechInput, transcribe)
	e.Handle(capability.SpeechOutput, synthesize)
	e.Handle(capability.Embedding, searchMemory)
	e.Handle(capability.Document, readDocument)
}

func handleMismatch(id capability.ID, want string) error {
	return fmt.Errorf("%s provider does not implement %s", id, want)
}

func describeImage(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
	d, ok := h.(capability.ImageDescriber)
	if !ok {
		return "", handleMismatch(capability.Vision, "image description")
	}
	url := in.Exec.attachment(AttachImageURL)
	if url == "" {
		return "", errors.New("no image attached to the request")
	}
	return d.DescribeImage(ctx, url, in.Step.Action)
}

func transcribe(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
	t, ok := h.(capability.Transcriber)
	if !ok {
		return "", handleMismatch(capability.SpeechInput, "transcription")
	}
	path := in.Exec.attachment(AttachAudioPath)
	if path == "" {
		return "", errors.New("no audio attached to the request")
	}
	return t.Transcribe(ctx, path)
}

// synthesize speaks the successful upstream output, or the user input when
// there is none.
func synthesize(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
	s, ok := h.(capability.Synthesizer)
	if !ok {
		return "", handleMismatch(capability.SpeechOutput, "speech synthesis")
	}
	var parts []string
	for _, r := range in.Upstream {
		if r.Success && r.Output != "" {
			parts = append(parts, r.Output)
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		text = in.Exec.UserInput
	}
	path, err := s.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	return "Audio written to " + path, nil
}

func searchMemory(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
	if s, ok := h.(capability.Searcher); ok {
		hits, err := s.Search(ctx, in.Exec.UserInput, searchLimit)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "No similar content found.", nil
		}
		return strings.Join(hits, "\n---\n"), nil
	}
	em, ok := h.(capability.Embedder)
	if !ok {
		return "", handleMismatch(capability.Embedding, "embedding")
	}
	vec, err := em.EmbedQuery(ctx, in.Exec.UserInput)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Embedded request into %d dimensions.", len(vec)), nil
}

func readDocument(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
	r, ok := h.(capability.DocumentReader)
	if !ok {
		return "", handleMismatch(capability.Document, "document reading")
	}
	path := in.Exec.attachment(AttachDocumentPath)
	if path == "" {
		return "", errors.New("no document attached to the request")
	}
	return r.ReadDocument(ctx, path)
}
