package gemini

import (
	"context"
	"iter"
	"time"

	"google.golang.org/genai"
)

// Service is the narrow surface of the generation service the session manager
// depends on. The split from FileStore keeps the fragment normalizer, which
// only ever resolves and fetches files, independent of chat and cache calls.
type Service interface {
	// UploadFile pushes in-memory file bytes to the service's temporary file
	// storage and returns the resulting file handle.
	UploadFile(ctx context.Context, data []byte, filename, mimeType string) (*genai.File, error)

	// CreateCache wraps a previously uploaded file in a content cache scoped to
	// the given model, with the code-execution tool declared on the cache and
	// an initial lease of ttl.
	CreateCache(ctx context.Context, model string, file *genai.File, displayName string, ttl time.Duration) (*genai.CachedContent, error)

	// RenewCache resets the remaining lease of an existing cache to ttl.
	RenewCache(ctx context.Context, name string, ttl time.Duration) error

	// DeleteCache releases a cache so it stops accruing storage cost.
	DeleteCache(ctx context.Context, name string) error

	// NewChat opens a multi-turn conversation bound to the model and config.
	NewChat(ctx context.Context, model string, config *genai.GenerateContentConfig) (Chat, error)
}

// Chat is one live multi-turn conversation handle.
type Chat interface {
	// SendStream sends one message turn and returns the chunked response.
	SendStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

// FileStore resolves remote-file references that appear inside streamed
// response parts.
type FileStore interface {
	// Lookup fetches the file handle for a resource name or full file URL.
	Lookup(ctx context.Context, name string) (*genai.File, error)

	// Fetch downloads the file's bytes, preferring the handle's direct
	// download capability over an authenticated URI fetch.
	Fetch(ctx context.Context, file *genai.File) ([]byte, error)
}
