package session

import (
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/finlens-poc/server/internal/analysis/gemini"
)

// Session binds a generated id to a live multi-turn chat handle plus whichever
// upload strategy was chosen at creation: a pending file that travels with the
// first message, or a remote content cache the chat config is bound to.
type Session struct {
	ID             string
	Model          string
	Chat           gemini.Chat
	CacheName      string
	CacheCreatedAt time.Time

	mu          sync.Mutex
	pendingFile *genai.File
}

// TakePendingFile returns the pending uploaded file and clears it, so the file
// is attached to exactly one outgoing message.
func (s *Session) TakePendingFile() *genai.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pendingFile
	s.pendingFile = nil
	return f
}

// Registry is the shared session table. All operations are atomic per id;
// sessions are independent, so no cross-session coordination exists. A send
// racing a delete on the same id simply observes not-found once the delete
// lands.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
