package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/finlens-poc/server/internal/analysis/gemini"
	"github.com/finlens-poc/server/internal/analysis/model"
	"github.com/finlens-poc/server/internal/analysis/prompts"
	"github.com/finlens-poc/server/internal/analysis/stream"
	errx "github.com/finlens-poc/server/internal/core/error"
	logx "github.com/finlens-poc/server/pkg/logger"
)

// FileUpload carries an already-read uploaded file from the HTTP layer.
type FileUpload struct {
	Data        []byte
	Filename    string
	ContentType string
}

func (f *FileUpload) complete() bool {
	return f != nil && len(f.Data) > 0 && f.Filename != "" && f.ContentType != ""
}

// Manager owns the chat session lifecycle: creation with the tier-appropriate
// upload strategy, lease heartbeats before every send, and teardown that
// releases the remote cache.
type Manager struct {
	svc      gemini.Service
	acc      *stream.Accumulator
	registry *Registry
	records  model.SessionRecordRepository // optional, nil disables durable records
	cfg      model.AnalysisConfig
}

func NewManager(svc gemini.Service, acc *stream.Accumulator, records model.SessionRecordRepository, cfg model.AnalysisConfig) *Manager {
	return &Manager{
		svc:      svc,
		acc:      acc,
		registry: NewRegistry(),
		records:  records,
		cfg:      cfg,
	}
}

// DefaultModel exposes the configured fallback model for callers that echo
// the effective model back to clients.
func (m *Manager) DefaultModel() string {
	return m.cfg.DefaultModel
}

func (m *Manager) cacheTTL() time.Duration {
	return time.Duration(m.cfg.CacheTTLMins) * time.Minute
}

// chatConfig builds the generation config for a new chat. Thinking mode is
// always on; the code-execution tool is declared per call only when no cache is
// bound, because a bound cache already carries the tool declaration and the
// upstream service rejects the duplicate.
func chatConfig(cacheName string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if cacheName != "" {
		cfg.CachedContent = cacheName
	} else {
		cfg.Tools = []*genai.Tool{{CodeExecution: &genai.ToolCodeExecution{}}}
	}
	return cfg
}

// CreateChat opens a new session, optionally uploading a file first. With
// caching enabled the upload is wrapped in a content cache with an initial
// lease; otherwise the file handle stays pending and travels with the first
// message.
func (m *Manager) CreateChat(ctx context.Context, file *FileUpload, modelName string) (string, error) {
	if modelName == "" {
		modelName = m.cfg.DefaultModel
	}
	id := uuid.NewString()
	logx.Info().Str("sessionID", id).Str("model", modelName).Msg("creating chat session")

	var (
		pending        *genai.File
		cacheName      string
		cacheCreatedAt time.Time
	)

	if file.complete() {
		uploaded, err := m.svc.UploadFile(ctx, file.Data, file.Filename, file.ContentType)
		if err != nil {
			return "", errx.WrapUpstream(err)
		}

		if m.cfg.CacheEnabled {
			cache, err := m.svc.CreateCache(ctx, modelName, uploaded, "cache_"+file.Filename, m.cacheTTL())
			if err != nil {
				return "", errx.WrapUpstream(err)
			}
			cacheName = cache.Name
			cacheCreatedAt = time.Now()
		} else {
			pending = uploaded
		}
	}

	chat, err := m.svc.NewChat(ctx, modelName, chatConfig(cacheName))
	if err != nil {
		return "", errx.WrapUpstream(err)
	}

	sess := &Session{
		ID:             id,
		Model:          modelName,
		Chat:           chat,
		CacheName:      cacheName,
		CacheCreatedAt: cacheCreatedAt,
		pendingFile:    pending,
	}
	m.registry.Put(sess)
	m.saveRecord(ctx, sess)

	return id, nil
}

// SendMessage streams one chat turn into sink. When the session holds a cache
// lease it is renewed first as a best-effort heartbeat; a failed heartbeat
// never blocks the send, though an expired cache will surface through the send
// itself.
func (m *Manager) SendMessage(ctx context.Context, sessionID, message string, sink stream.Sink) error {
	if message == "" {
		return errx.Validation("message is required")
	}

	sess, ok := m.registry.Get(sessionID)
	if !ok {
		return errx.NotFound(fmt.Sprintf("chat session %s not found", sessionID))
	}

	if sess.CacheName != "" {
		if err := m.svc.RenewCache(ctx, sess.CacheName, m.cacheTTL()); err != nil {
			logx.Warn().Err(err).Str("cache", sess.CacheName).Msg("cache heartbeat failed")
		} else {
			logx.Debug().Str("cache", sess.CacheName).Dur("ttl", m.cacheTTL()).Msg("cache heartbeat sent")
		}
	}

	var parts []genai.Part
	if pf := sess.TakePendingFile(); pf != nil {
		parts = append(parts, *genai.NewPartFromURI(pf.URI, pf.MIMEType))
	}
	parts = append(parts, *genai.NewPartFromText(message))

	return m.acc.Drain(ctx, sess.Chat.SendStream(ctx, parts...), sess.Model, sink)
}

// DeleteChat tears down a session. Unknown ids are a no-op. The bound cache is
// released first to stop storage billing, best-effort; the session always
// leaves the registry regardless.
func (m *Manager) DeleteChat(ctx context.Context, sessionID string) error {
	sess, ok := m.registry.Get(sessionID)
	if !ok {
		return nil
	}

	m.releaseCache(ctx, sess.CacheName)
	m.deleteRecord(ctx, sessionID)
	m.registry.Remove(sessionID)

	logx.Info().Str("sessionID", sessionID).Msg("chat session deleted")
	return nil
}

// Analyze runs a one-shot analysis: a fresh single-use chat, the rendered
// analysis prompt, and the optional uploaded file as the first message.
func (m *Manager) Analyze(ctx context.Context, file *FileUpload, query, modelName string, sink stream.Sink) error {
	if query == "" {
		return errx.Validation("query is required")
	}
	if modelName == "" {
		modelName = m.cfg.DefaultModel
	}

	prompt, err := prompts.RenderAnalysis(query)
	if err != nil {
		return err
	}

	parts := []genai.Part{*genai.NewPartFromText(prompt)}
	if file.complete() {
		uploaded, err := m.svc.UploadFile(ctx, file.Data, file.Filename, file.ContentType)
		if err != nil {
			return errx.WrapUpstream(err)
		}
		parts = append(parts, *genai.NewPartFromURI(uploaded.URI, uploaded.MIMEType))
	}

	chat, err := m.svc.NewChat(ctx, modelName, chatConfig(""))
	if err != nil {
		return errx.WrapUpstream(err)
	}

	return m.acc.Drain(ctx, chat.SendStream(ctx, parts...), modelName, sink)
}

// ReleaseOrphans releases cache leases recorded by a previous process run.
// Sessions do not survive restarts, so any durable record without a live
// registry entry is a leak that keeps billing until its lease lapses.
func (m *Manager) ReleaseOrphans(ctx context.Context) {
	if m.records == nil {
		return
	}

	records, err := m.records.List(ctx)
	if err != nil {
		logx.Warn().Err(err).Msg("failed to list session records for orphan release")
		return
	}

	for _, rec := range records {
		if _, live := m.registry.Get(rec.ID); live {
			continue
		}
		m.releaseCache(ctx, rec.CacheName)
		m.deleteRecord(ctx, rec.ID)
		logx.Info().Str("sessionID", rec.ID).Str("cache", rec.CacheName).Msg("released orphaned session")
	}
}

func (m *Manager) releaseCache(ctx context.Context, cacheName string) {
	if cacheName == "" {
		return
	}
	if err := m.svc.DeleteCache(ctx, cacheName); err != nil {
		logx.Warn().Err(err).Str("cache", cacheName).Msg("failed to delete cache")
		return
	}
	logx.Info().Str("cache", cacheName).Msg("cache deleted")
}

func (m *Manager) saveRecord(ctx context.Context, sess *Session) {
	if m.records == nil {
		return
	}
	rec := model.SessionRecord{
		ID:        sess.ID,
		Model:     sess.Model,
		CacheName: sess.CacheName,
		CreatedAt: time.Now(),
	}
	if err := m.records.Save(ctx, rec); err != nil {
		logx.Warn().Err(err).Str("sessionID", sess.ID).Msg("failed to persist session record")
	}
}

func (m *Manager) deleteRecord(ctx context.Context, sessionID string) {
	if m.records == nil {
		return
	}
	if err := m.records.Delete(ctx, sessionID); err != nil {
		logx.Warn().Err(err).Str("sessionID", sessionID).Msg("failed to delete session record")
	}
}
