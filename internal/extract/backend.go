package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat indicates the file type has no registered backend.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Result is the output of a successful extraction.
type Result struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Backend extracts text from one document. Format-specific logic (PDF, Office,
// OCR) lives behind this interface; implementations are registered per
// extension on the Router.
type Backend interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// Router dispatches extraction by file extension.
type Router struct {
	backends map[string]Backend
}

func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Register binds a backend to one or more extensions (with leading dot).
func (r *Router) Register(backend Backend, extensions ...string) {
	for _, ext := range extensions {
		r.backends[strings.ToLower(ext)] = backend
	}
}

// SupportedFormats lists registered extensions.
func (r *Router) SupportedFormats() []string {
	formats := make([]string, 0, len(r.backends))
	for ext := range r.backends {
		formats = append(formats, ext)
	}
	return formats
}

func (r *Router) Extract(ctx context.Context, path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	backend, ok := r.backends[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return backend.Extract(ctx, path)
}

// PlainTextBackend reads text-like documents directly from disk. It is the
// built-in fallback used when no format-specific backend is deployed.
type PlainTextBackend struct {
	maxBytes int64
}

func NewPlainTextBackend(maxBytes int64) *PlainTextBackend {
	return &PlainTextBackend{maxBytes: maxBytes}
}

func (b *PlainTextBackend) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if b.maxBytes > 0 && fi.Size() > b.maxBytes {
		return nil, fmt.Errorf("file too large: %d bytes (limit %d)", fi.Size(), b.maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	return &Result{
		Text: text,
		Metadata: map[string]any{
			"filename":          filepath.Base(path),
			"extension":         strings.ToLower(filepath.Ext(path)),
			"size_bytes":        fi.Size(),
			"extraction_method": "plaintext",
		},
	}, nil
}
