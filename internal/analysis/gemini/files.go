package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrNetwork marks file-download failures caused by the transport rather than
// by the file itself. Callers degrade these to a partial-error fragment with a
// network-error marker instead of aborting the stream.
var ErrNetwork = errors.New("network error")

// CanonicalFileName reduces a file reference to the `files/<id>` resource name
// the files API expects. References arriving inside response parts are often
// full URLs (https://.../v1beta/files/abc); plain resource names pass through.
func CanonicalFileName(ref string) string {
	if idx := strings.Index(ref, "/files/"); idx >= 0 {
		return "files/" + ref[idx+len("/files/"):]
	}
	return ref
}

func (c *Client) Lookup(ctx context.Context, name string) (*genai.File, error) {
	file, err := c.genai.Files.Get(ctx, CanonicalFileName(name), nil)
	if err != nil {
		return nil, fmt.Errorf("get file %q: %w", name, err)
	}
	return file, nil
}

// Fetch downloads a file's bytes. Handles with a direct download URI go
// through the SDK; otherwise the file URI is fetched over HTTP with the API
// key attached, since generated files require authenticated access.
func (c *Client) Fetch(ctx context.Context, file *genai.File) ([]byte, error) {
	if file.DownloadURI != "" {
		data, err := c.genai.Files.Download(ctx, file, nil)
		if err != nil {
			return nil, fmt.Errorf("download file %q: %w", file.Name, err)
		}
		return data, nil
	}

	if file.URI == "" {
		return nil, fmt.Errorf("no download method available for file %q", file.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", file.URI, err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %q: %v", ErrNetwork, file.URI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch %q: unexpected status %s", ErrNetwork, file.URI, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", ErrNetwork, file.URI, err)
	}
	return data, nil
}
