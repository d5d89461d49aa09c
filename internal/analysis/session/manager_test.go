package session

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/finlens-poc/server/internal/analysis/gemini"
	"github.com/finlens-poc/server/internal/analysis/model"
	"github.com/finlens-poc/server/internal/analysis/stream"
	errx "github.com/finlens-poc/server/internal/core/error"
)

type uploadCall struct {
	filename string
	mimeType string
}

type cacheCreateCall struct {
	model       string
	displayName string
	ttl         time.Duration
}

type fakeService struct {
	mu sync.Mutex

	uploads      []uploadCall
	cacheCreates []cacheCreateCall
	renews       []string
	cacheDeletes []string
	chatConfigs  []*genai.GenerateContentConfig
	chats        []*fakeChat

	chunks    []*genai.GenerateContentResponse
	renewErr  error
	deleteErr error
}

func (f *fakeService) UploadFile(_ context.Context, _ []byte, filename, mimeType string) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, uploadCall{filename: filename, mimeType: mimeType})
	return &genai.File{
		Name:        "files/fake123",
		URI:         "https://example.test/v1beta/files/fake123",
		MIMEType:    mimeType,
		DisplayName: filename,
	}, nil
}

func (f *fakeService) CreateCache(_ context.Context, model string, _ *genai.File, displayName string, ttl time.Duration) (*genai.CachedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheCreates = append(f.cacheCreates, cacheCreateCall{model: model, displayName: displayName, ttl: ttl})
	return &genai.CachedContent{Name: "cachedContents/fake456"}, nil
}

func (f *fakeService) RenewCache(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews = append(f.renews, name)
	return f.renewErr
}

func (f *fakeService) DeleteCache(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheDeletes = append(f.cacheDeletes, name)
	return f.deleteErr
}

func (f *fakeService) NewChat(_ context.Context, _ string, config *genai.GenerateContentConfig) (gemini.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatConfigs = append(f.chatConfigs, config)
	chat := &fakeChat{svc: f}
	f.chats = append(f.chats, chat)
	return chat, nil
}

type fakeChat struct {
	svc   *fakeService
	sends [][]genai.Part
}

func (c *fakeChat) SendStream(_ context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error] {
	c.svc.mu.Lock()
	c.sends = append(c.sends, parts)
	chunks := c.svc.chunks
	c.svc.mu.Unlock()
	return stream.FromChunks(chunks...)
}

func helloChunk() *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "Hi there"}}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
		},
	}
}

func newTestManager(svc *fakeService, cfg model.AnalysisConfig) *Manager {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.5-flash"
	}
	acc := stream.NewAccumulator(stream.NewNormalizer(nil), cfg.StorageApproxMins)
	return NewManager(svc, acc, nil, cfg)
}

func discard([]byte) error { return nil }

func collectLines(lines *[][]model.Fragment) stream.Sink {
	return func(line []byte) error {
		var parts []model.Fragment
		if err := json.Unmarshal(line, &parts); err != nil {
			return err
		}
		*lines = append(*lines, parts)
		return nil
	}
}

func TestCreateChatAndSendMessage(t *testing.T) {
	svc := &fakeService{chunks: []*genai.GenerateContentResponse{helloChunk()}}
	m := newTestManager(svc, model.AnalysisConfig{})
	ctx := context.Background()

	id, err := m.CreateChat(ctx, nil, "gemini-2.5-flash")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Empty(t, svc.uploads)

	// No cache bound: tools are declared per call.
	require.Len(t, svc.chatConfigs, 1)
	cfg := svc.chatConfigs[0]
	assert.Empty(t, cfg.CachedContent)
	require.Len(t, cfg.Tools, 1)
	assert.NotNil(t, cfg.Tools[0].CodeExecution)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.True(t, cfg.ThinkingConfig.IncludeThoughts)

	var lines [][]model.Fragment
	require.NoError(t, m.SendMessage(ctx, id, "hello", collectLines(&lines)))

	require.Len(t, lines, 2)
	assert.Equal(t, []model.Fragment{{Text: "Hi there"}}, lines[0])
	require.Len(t, lines[1], 2)
	require.NotNil(t, lines[1][1].CostData)
	assert.InDelta(t, 10.0/1e6*0.30+5.0/1e6*2.50, lines[1][1].CostData.TotalCost, 1e-6)
}

func TestSendMessageUnknownSession(t *testing.T) {
	m := newTestManager(&fakeService{}, model.AnalysisConfig{})
	err := m.SendMessage(context.Background(), "nope", "hello", discard)

	require.Error(t, err)
	var appErr *errx.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
}

func TestSendMessageEmptyMessage(t *testing.T) {
	m := newTestManager(&fakeService{}, model.AnalysisConfig{})
	err := m.SendMessage(context.Background(), "any", "", discard)

	var appErr *errx.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
}

func TestDeleteChatUnknownIsNoop(t *testing.T) {
	m := newTestManager(&fakeService{}, model.AnalysisConfig{})
	assert.NoError(t, m.DeleteChat(context.Background(), "never-created"))
}

func TestFreeTierPendingFileTravelsOnce(t *testing.T) {
	svc := &fakeService{chunks: []*genai.GenerateContentResponse{helloChunk()}}
	m := newTestManager(svc, model.AnalysisConfig{})
	ctx := context.Background()

	file := &FileUpload{Data: []byte("a,b\n1,2"), Filename: "data.csv", ContentType: "text/csv"}
	id, err := m.CreateChat(ctx, file, "")
	require.NoError(t, err)

	require.Len(t, svc.uploads, 1)
	assert.Equal(t, "data.csv", svc.uploads[0].filename)
	assert.Empty(t, svc.cacheCreates, "free tier never creates a cache")

	require.NoError(t, m.SendMessage(ctx, id, "first", discard))
	require.NoError(t, m.SendMessage(ctx, id, "second", discard))

	chat := svc.chats[0]
	require.Len(t, chat.sends, 2)
	assert.Len(t, chat.sends[0], 2, "first message carries the pending file")
	assert.Len(t, chat.sends[1], 1, "file is never resent")
	assert.Empty(t, svc.renews)
}

func TestPaidTierCacheLifecycle(t *testing.T) {
	svc := &fakeService{chunks: []*genai.GenerateContentResponse{helloChunk()}}
	m := newTestManager(svc, model.AnalysisConfig{CacheEnabled: true, CacheTTLMins: 10})
	ctx := context.Background()

	file := &FileUpload{Data: []byte("a,b\n1,2"), Filename: "data.csv", ContentType: "text/csv"}
	id, err := m.CreateChat(ctx, file, "gemini-2.5-pro")
	require.NoError(t, err)

	require.Len(t, svc.uploads, 1)
	require.Len(t, svc.cacheCreates, 1)
	assert.Equal(t, "gemini-2.5-pro", svc.cacheCreates[0].model)
	assert.Equal(t, "cache_data.csv", svc.cacheCreates[0].displayName)
	assert.Equal(t, 10*time.Minute, svc.cacheCreates[0].ttl)

	// Cache bound: tools live on the cache, not the per-call config.
	require.Len(t, svc.chatConfigs, 1)
	cfg := svc.chatConfigs[0]
	assert.Equal(t, "cachedContents/fake456", cfg.CachedContent)
	assert.Empty(t, cfg.Tools)

	require.NoError(t, m.SendMessage(ctx, id, "first", discard))
	require.NoError(t, m.SendMessage(ctx, id, "second", discard))
	assert.Equal(t, []string{"cachedContents/fake456", "cachedContents/fake456"}, svc.renews)

	require.NoError(t, m.DeleteChat(ctx, id))
	assert.Equal(t, []string{"cachedContents/fake456"}, svc.cacheDeletes)

	// Session is gone regardless of cache state.
	err = m.SendMessage(ctx, id, "third", discard)
	var appErr *errx.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
}

func TestHeartbeatFailureDoesNotBlockSend(t *testing.T) {
	svc := &fakeService{
		chunks:   []*genai.GenerateContentResponse{helloChunk()},
		renewErr: errors.New("cache expired"),
	}
	m := newTestManager(svc, model.AnalysisConfig{CacheEnabled: true, CacheTTLMins: 10})
	ctx := context.Background()

	file := &FileUpload{Data: []byte("x"), Filename: "f.csv", ContentType: "text/csv"}
	id, err := m.CreateChat(ctx, file, "")
	require.NoError(t, err)

	assert.NoError(t, m.SendMessage(ctx, id, "hello", discard))
	assert.Len(t, svc.renews, 1)
}

func TestCacheDeleteFailureStillRemovesSession(t *testing.T) {
	svc := &fakeService{
		chunks:    []*genai.GenerateContentResponse{helloChunk()},
		deleteErr: errors.New("already gone"),
	}
	m := newTestManager(svc, model.AnalysisConfig{CacheEnabled: true, CacheTTLMins: 10})
	ctx := context.Background()

	file := &FileUpload{Data: []byte("x"), Filename: "f.csv", ContentType: "text/csv"}
	id, err := m.CreateChat(ctx, file, "")
	require.NoError(t, err)

	require.NoError(t, m.DeleteChat(ctx, id))

	err = m.SendMessage(ctx, id, "hello", discard)
	var appErr *errx.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
}

func TestAnalyzeOneShot(t *testing.T) {
	svc := &fakeService{chunks: []*genai.GenerateContentResponse{helloChunk()}}
	m := newTestManager(svc, model.AnalysisConfig{})
	ctx := context.Background()

	var lines [][]model.Fragment
	file := &FileUpload{Data: []byte("a,b"), Filename: "data.csv", ContentType: "text/csv"}
	require.NoError(t, m.Analyze(ctx, file, "what trends do you see?", "", collectLines(&lines)))

	require.Len(t, svc.uploads, 1)
	require.Len(t, svc.chats, 1)
	require.Len(t, svc.chats[0].sends, 1)
	assert.Len(t, svc.chats[0].sends[0], 2, "prompt plus uploaded file")

	// One-shot analysis never uses a cache.
	assert.Empty(t, svc.cacheCreates)
	require.NotEmpty(t, lines)
}

func TestAnalyzeRequiresQuery(t *testing.T) {
	m := newTestManager(&fakeService{}, model.AnalysisConfig{})
	err := m.Analyze(context.Background(), nil, "", "", discard)

	var appErr *errx.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[string]model.SessionRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[string]model.SessionRecord)}
}

func (r *fakeRecordRepo) Save(_ context.Context, record model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *fakeRecordRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, sessionID)
	return nil
}

func (r *fakeRecordRepo) List(_ context.Context) ([]model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func TestReleaseOrphans(t *testing.T) {
	svc := &fakeService{}
	repo := newFakeRecordRepo()
	acc := stream.NewAccumulator(stream.NewNormalizer(nil), 0)
	m := NewManager(svc, acc, repo, model.AnalysisConfig{DefaultModel: "gemini-2.5-flash"})
	ctx := context.Background()

	// A record left behind by a previous process run.
	require.NoError(t, repo.Save(ctx, model.SessionRecord{
		ID:        "stale-id",
		Model:     "gemini-2.5-pro",
		CacheName: "cachedContents/stale",
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	m.ReleaseOrphans(ctx)

	assert.Equal(t, []string{"cachedContents/stale"}, svc.cacheDeletes)
	remaining, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReleaseOrphansSkipsLiveSessions(t *testing.T) {
	svc := &fakeService{}
	repo := newFakeRecordRepo()
	acc := stream.NewAccumulator(stream.NewNormalizer(nil), 0)
	m := NewManager(svc, acc, repo, model.AnalysisConfig{
		DefaultModel: "gemini-2.5-flash",
		CacheEnabled: true,
		CacheTTLMins: 10,
	})
	ctx := context.Background()

	file := &FileUpload{Data: []byte("x"), Filename: "f.csv", ContentType: "text/csv"}
	id, err := m.CreateChat(ctx, file, "")
	require.NoError(t, err)

	m.ReleaseOrphans(ctx)

	assert.Empty(t, svc.cacheDeletes, "live session's cache is untouched")
	remaining, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, id, remaining[0].ID)
}
