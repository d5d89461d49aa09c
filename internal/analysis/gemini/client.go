package gemini

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	logx "github.com/finlens-poc/server/pkg/logger"
)

// Client adapts the google.golang.org/genai SDK to the Service and FileStore
// interfaces consumed by the core.
type Client struct {
	genai  *genai.Client
	apiKey string
	httpc  *http.Client
}

// Config holds connection parameters for the Gemini API.
type Config struct {
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

// NewClient builds a Gemini API client from the given config.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	return &Client{
		genai:  client,
		apiKey: cfg.APIKey,
		httpc:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Client) UploadFile(ctx context.Context, data []byte, filename, mimeType string) (*genai.File, error) {
	logx.Debug().Str("filename", filename).Str("mimeType", mimeType).Msg("uploading file")

	file, err := c.genai.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		DisplayName: filename,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file %q: %w", filename, err)
	}

	logx.Info().Str("name", file.Name).Str("filename", filename).Msg("file uploaded to temporary storage")
	return file, nil
}

func (c *Client) CreateCache(ctx context.Context, model string, file *genai.File, displayName string, ttl time.Duration) (*genai.CachedContent, error) {
	// Cache creation requires the fully qualified model resource name.
	cacheModel := model
	if !strings.HasPrefix(cacheModel, "models/") {
		cacheModel = "models/" + cacheModel
	}

	cache, err := c.genai.Caches.Create(ctx, cacheModel, &genai.CreateCachedContentConfig{
		Contents: []*genai.Content{
			genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromURI(file.URI, file.MIMEType),
			}, genai.RoleUser),
		},
		DisplayName: displayName,
		TTL:         ttl,
		// Tools live on the cache; redeclaring them per call is rejected upstream.
		Tools: []*genai.Tool{{CodeExecution: &genai.ToolCodeExecution{}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create cache for %q: %w", file.Name, err)
	}

	logx.Info().Str("cache", cache.Name).Dur("ttl", ttl).Msg("cache created")
	return cache, nil
}

func (c *Client) RenewCache(ctx context.Context, name string, ttl time.Duration) error {
	_, err := c.genai.Caches.Update(ctx, name, &genai.UpdateCachedContentConfig{TTL: ttl})
	if err != nil {
		return fmt.Errorf("renew cache %q: %w", name, err)
	}
	return nil
}

func (c *Client) DeleteCache(ctx context.Context, name string) error {
	if _, err := c.genai.Caches.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete cache %q: %w", name, err)
	}
	return nil
}

func (c *Client) NewChat(ctx context.Context, model string, config *genai.GenerateContentConfig) (Chat, error) {
	chat, err := c.genai.Chats.Create(ctx, model, config, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return liveChat{chat: chat}, nil
}

type liveChat struct {
	chat *genai.Chat
}

func (l liveChat) SendStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error] {
	return l.chat.SendMessageStream(ctx, parts...)
}

var (
	_ Service   = (*Client)(nil)
	_ FileStore = (*Client)(nil)
)
