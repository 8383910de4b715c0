package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/internal/uuidutil"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

// DefaultRetention is how long a retired session stays queryable.
const DefaultRetention = 15 * time.Minute

// NewSession describes a session to register.
type NewSession struct {
	Name      string
	TargetURL string
	Script    scenario.Script
	Options   scenario.Options
	Sink      events.Sink
}

// Registry tracks every known session and how to cancel it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	retention time.Duration
	onRemove  []func(uuid.UUID)
	logger    logger.Logger
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithRetention sets how long retired sessions are kept before cleanup.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithRemoveHook registers fn to run after a session leaves the registry.
func WithRemoveHook(fn func(uuid.UUID)) Option {
	return func(r *Registry) {
		r.onRemove = append(r.onRemove, fn)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions:  make(map[uuid.UUID]*Session),
		retention: DefaultRetention,
		logger:    log,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new session under a fresh id. The returned context is
// cancelled by Cancel, Retire or cancellation of parent.
func (r *Registry) Create(parent context.Context, req NewSession) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	now := r.now()

	s := &Session{
		Name:      req.Name,
		TargetURL: req.TargetURL,
		Script:    req.Script.Clone(),
		Options:   req.Options,
		CreatedAt: now,
		status:    testrun.StatusInitializing,
		updatedAt: now,
		cancel:    cancel,
	}

	r.mu.Lock()
	for {
		s.ID = uuidutil.NewSessionID()
		if _, taken := r.sessions[s.ID]; !taken {
			break
		}
	}
	s.Events = events.NewStream(s.ID, req.Sink, r.logger)
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info(ctx, "session created", map[string]interface{}{
		"session_id": s.ID.String(),
		"name":       s.Name,
		"target_url": s.TargetURL,
	})
	return s, ctx
}

// Get retrieves a session by id.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Cancel signals the session to stop. It does not wait.
func (r *Registry) Cancel(id uuid.UUID) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.requestCancel()
	return nil
}

// Retire cancels the session and starts its retention window. The session
// stays readable until cleanup or Remove.
func (r *Registry) Retire(id uuid.UUID) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.retire(r.now())
	return nil
}

// Remove drops a session immediately. Removing an unknown id is a no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.requestCancel()
	for _, fn := range r.onRemove {
		fn(id)
	}
	r.logger.Info(context.Background(), "session removed", map[string]interface{}{
		"session_id": id.String(),
	})
}

// ListActive returns snapshots of sessions that have not reached a terminal
// status, oldest first.
func (r *Registry) ListActive() []Snapshot {
	return r.list(func(s Snapshot) bool { return !s.Status.IsTerminal() })
}

func (r *Registry) list(keep func(Snapshot) bool) []Snapshot {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		if snap := s.Snapshot(); keep(snap) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len is the number of sessions held, retired ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cleanup removes sessions whose retention window has passed and returns how
// many were removed.
func (r *Registry) Cleanup() int {
	cutoff := r.now().Add(-r.retention)

	var expired []uuid.UUID
	r.mu.RLock()
	for id, s := range r.sessions {
		if at := s.RetiredAt(); !at.IsZero() && !at.After(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.Remove(id)
	}
	return len(expired)
}

// StartCleanup runs Cleanup every interval until StopCleanup.
func (r *Registry) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := r.Cleanup()
				if removed > 0 {
					r.logger.Info(context.Background(), "cleaned up retired sessions", map[string]interface{}{
						"removed_count": removed,
					})
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to exit.
func (r *Registry) StopCleanup() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
