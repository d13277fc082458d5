package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/storage"
)

type FlowKind string

const (
	FlowCapture  FlowKind = "capture"
	FlowUpdate   FlowKind = "update"
	FlowComplete FlowKind = "complete"
)

// Form is the wizard-specific state a session carries. Each flow defines one
// concrete form type holding exactly the fields its steps collect.
type Form interface {
	Kind() FlowKind
}

// Session is one user's in-progress wizard. Sessions are transient: losing
// them aborts the conversation but never loses committed data.
type Session struct {
	User      storage.User
	ChannelID string
	Form      Form
	UpdatedAt time.Time
}

// Store keeps at most one session per user identity. Starting a new wizard
// replaces whatever was in progress.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *logrus.Entry
}

func NewStore(log *logrus.Entry) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Begin creates the session for the user, discarding any previous one.
func (s *Store) Begin(user storage.User, channelID string, form Form) *Session {
	sess := &Session{
		User:      user,
		ChannelID: channelID,
		Form:      form,
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	if prev, exists := s.sessions[user.PlatformID]; exists {
		s.log.WithFields(logrus.Fields{
			"user": user.PlatformID,
			"flow": prev.Form.Kind(),
		}).Debug("replacing in-progress session")
	}
	s.sessions[user.PlatformID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Store) Get(platformID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[platformID]
	return sess, ok
}

// Touch refreshes the idle clock after the session absorbed an event.
func (s *Store) Touch(platformID string) {
	s.mu.Lock()
	if sess, ok := s.sessions[platformID]; ok {
		sess.UpdatedAt = time.Now()
	}
	s.mu.Unlock()
}

// End destroys the session. A no-op when none exists.
func (s *Store) End(platformID string) {
	s.mu.Lock()
	delete(s.sessions, platformID)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper destroys sessions idle longer than idleTimeout. Runs until
// the context is canceled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration, idleTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(idleTimeout)
			}
		}
	}()
}

func (s *Store) sweep(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	s.mu.Lock()
	for key, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, key)
			s.log.WithFields(logrus.Fields{
				"user": key,
				"flow": sess.Form.Kind(),
			}).Info("expired idle session")
		}
	}
	s.mu.Unlock()
}
