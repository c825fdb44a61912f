package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// documentHandle extracts text from local pdf, html and plain text files.
type documentHandle struct{}

func (documentHandle) ReadDocument(ctx context.Context, path string) (string, error) {
	docs, err := LoadDocuments(ctx, path)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if text := strings.TrimSpace(d.PageContent); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text found in %s", filepath.Base(path))
	}
	return strings.Join(parts, "\n\n"), nil
}

// LoadDocuments picks a loader by file extension.
func LoadDocuments(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		loader = documentloaders.NewPDF(f, info.Size())
	case ".html", ".htm":
		loader = documentloaders.NewHTML(f)
	default:
		loader = documentloaders.NewText(f)
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}
	return docs, nil
}
