package worker

import (
	"sync"

	"skillsling/internal/service/ai"
)

// sessionResources holds the per-session inference client. Rebuilt whenever
// the caller switches provider, model or API token mid-conversation.
type sessionResources struct {
	client   ai.Streamer
	provider string
	model    string
	token    string
}

// cachedContext memoizes the extracted document text for a session so the
// same uploads are not re-parsed on every exchange. fileKey identifies the
// exact file set the text was built from.
type cachedContext struct {
	fileKey string
	text    string
}

type workerState struct {
	stopCh  chan struct{}
	taskCh  chan exchangeTask
	purgeCh chan string

	mu        sync.RWMutex
	resources map[string]*sessionResources
	contexts  map[string]cachedContext
}

func newWorkerState() *workerState {
	return &workerState{
		stopCh:    make(chan struct{}),
		taskCh:    make(chan exchangeTask, queueLen),
		purgeCh:   make(chan string, queueLen),
		resources: make(map[string]*sessionResources),
		contexts:  make(map[string]cachedContext),
	}
}

func (s *workerState) getResources(sessionID string) *sessionResources {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources[sessionID]
}

func (s *workerState) setResources(sessionID string, res *sessionResources) {
	if res == nil {
		return
	}
	s.mu.Lock()
	s.resources[sessionID] = res
	s.mu.Unlock()
}

func (s *workerState) getContext(sessionID, fileKey string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.contexts[sessionID]
	if !ok || cached.fileKey != fileKey {
		return "", false
	}
	return cached.text, true
}

func (s *workerState) setContext(sessionID, fileKey, text string) {
	s.mu.Lock()
	s.contexts[sessionID] = cachedContext{fileKey: fileKey, text: text}
	s.mu.Unlock()
}

func (s *workerState) purgeCache(sessionID string) {
	s.mu.Lock()
	delete(s.resources, sessionID)
	delete(s.contexts, sessionID)
	s.mu.Unlock()
}

// drainTasks answers anything still queued after shutdown so callers do not
// block on a worker that will never run again.
func (s *workerState) drainTasks() {
	for {
		select {
		case task := <-s.taskCh:
			task.resultCh <- exchangeResult{err: ErrStopped}
		default:
			return
		}
	}
}

func (s *workerState) reset() {
	s.mu.Lock()
	s.resources = make(map[string]*sessionResources)
	s.contexts = make(map[string]cachedContext)
	s.mu.Unlock()
}
