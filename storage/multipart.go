package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/ruteri/object-storage-backend/metrics"
)

// DefaultSessionTTL is how long an idle multipart session is kept.
const DefaultSessionTTL = 24 * time.Hour

// SessionState is the lifecycle state of a multipart upload session.
type SessionState int

const (
	StateInitiated SessionState = iota
	StateReceivingParts
	StateCompleted
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateInitiated:
		return "INITIATED"
	case StateReceivingParts:
		return "RECEIVING_PARTS"
	case StateCompleted:
		return "COMPLETED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

type uploadedPart struct {
	data []byte
	tag  string
}

// UploadSession is the server side state of one multipart upload.
// The object key is fixed when the session is created.
type UploadSession struct {
	ID           string
	BackendKey   string
	ObjectKey    string
	FileName     string
	ContentType  string
	DeclaredSize int64
	CreatedAt    time.Time

	mu         sync.Mutex
	updatedAt  time.Time
	state      SessionState
	committing bool
	parts      map[int]uploadedPart
}

// State returns the current state.
func (s *UploadSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CommitFunc persists the assembled object of a session.
type CommitFunc func(ctx context.Context, s *UploadSession, body io.Reader, size int64) error

// SessionManager owns every in-flight multipart upload of the process.
// Sessions are not persisted; a restart loses them.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewSessionManager creates a manager that expires sessions idle for longer than ttl.
func NewSessionManager(ttl time.Duration, log *slog.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*UploadSession),
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

// Create registers a new session for objectKey and moves it to RECEIVING_PARTS.
func (m *SessionManager) Create(backendKey, objectKey, fileName string, declaredSize int64, contentType string) *UploadSession {
	now := m.now()
	s := &UploadSession{
		ID:           uuid.NewString(),
		BackendKey:   backendKey,
		ObjectKey:    objectKey,
		FileName:     fileName,
		ContentType:  contentType,
		DeclaredSize: declaredSize,
		CreatedAt:    now,
		updatedAt:    now,
		state:        StateInitiated,
		parts:        make(map[int]uploadedPart),
	}
	s.state = StateReceivingParts

	m.mu.Lock()
	m.sessions[s.ID] = s
	open := len(m.sessions)
	m.mu.Unlock()
	metrics.MultipartSessions.Set(float64(open))

	m.log.Debug("Multipart session initiated",
		slog.String("session_id", s.ID),
		slog.String("backend", backendKey),
		slog.String("key", objectKey))
	return s
}

// lookup returns a live session owned by backendKey.
func (m *SessionManager) lookup(id, backendKey string) (*UploadSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrInvalidSession, id)
	}
	if backendKey != "" && s.BackendKey != backendKey {
		return nil, fmt.Errorf("%w: %s belongs to backend %q", interfaces.ErrInvalidSession, id, s.BackendKey)
	}
	return s, nil
}

// BackendOf returns the backend that owns the session.
func (m *SessionManager) BackendOf(id string) (string, error) {
	s, err := m.lookup(id, "")
	if err != nil {
		return "", err
	}
	return s.BackendKey, nil
}

// PutPart stores data as part partNumber, replacing an earlier upload of the
// same number, and returns the part tag (hex MD5 of data).
func (m *SessionManager) PutPart(id, backendKey string, partNumber int, data []byte) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("%w: part number must be >= 1, got %d", interfaces.ErrInvalidArgument, partNumber)
	}
	s, err := m.lookup(id, backendKey)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(data)
	tag := hex.EncodeToString(sum[:])
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptingLocked(); err != nil {
		return "", err
	}
	s.parts[partNumber] = uploadedPart{data: buf, tag: tag}
	s.updatedAt = m.now()
	return tag, nil
}

// Complete assembles the parts in ascending part number order and hands them to
// commit. partTags are accepted for protocol compatibility; ordering always comes
// from the server side part numbers. On success the session is removed; when
// commit fails the session stays open so the caller may retry.
func (m *SessionManager) Complete(ctx context.Context, id, backendKey string, partTags []string, commit CommitFunc) (string, error) {
	s, err := m.lookup(id, backendKey)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if err := s.acceptingLocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if len(s.parts) == 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: session %s has no parts", interfaces.ErrInvalidArgument, id)
	}
	numbers := make([]int, 0, len(s.parts))
	for n := range s.parts {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	readers := make([]io.Reader, 0, len(numbers))
	var size int64
	for _, n := range numbers {
		p := s.parts[n]
		readers = append(readers, bytes.NewReader(p.data))
		size += int64(len(p.data))
	}
	s.committing = true
	s.mu.Unlock()

	if len(partTags) > 0 && len(partTags) != len(numbers) {
		m.log.Debug("Part tag count differs from stored parts",
			slog.String("session_id", id),
			slog.Int("tags", len(partTags)),
			slog.Int("parts", len(numbers)))
	}

	if err := commit(ctx, s, io.MultiReader(readers...), size); err != nil {
		s.mu.Lock()
		s.committing = false
		s.updatedAt = m.now()
		s.mu.Unlock()
		return "", err
	}

	s.mu.Lock()
	s.committing = false
	s.state = StateCompleted
	s.parts = nil
	s.mu.Unlock()
	m.remove(id)

	m.log.Debug("Multipart session completed",
		slog.String("session_id", id),
		slog.String("key", s.ObjectKey),
		slog.Int64("size", size))
	return s.ObjectKey, nil
}

// acceptingLocked reports why the session cannot take parts or a commit right now.
func (s *UploadSession) acceptingLocked() error {
	if s.state != StateReceivingParts {
		return fmt.Errorf("%w: %s is %s", interfaces.ErrInvalidSession, s.ID, s.state)
	}
	if s.committing {
		return fmt.Errorf("%w: %s", interfaces.ErrSessionBusy, s.ID)
	}
	return nil
}

// Abort discards the session and reports whether it existed. A session that is
// being committed cannot be aborted.
func (m *SessionManager) Abort(id, backendKey string) (bool, error) {
	s, err := m.lookup(id, backendKey)
	if err != nil {
		return false, nil
	}

	s.mu.Lock()
	if s.committing || s.state != StateReceivingParts {
		s.mu.Unlock()
		return false, nil
	}
	s.state = StateAborted
	s.parts = nil
	s.mu.Unlock()

	m.remove(id)
	m.log.Debug("Multipart session aborted", slog.String("session_id", id))
	return true, nil
}

// Reap removes sessions idle for longer than the TTL and returns how many were dropped.
func (m *SessionManager) Reap() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if !s.committing && s.updatedAt.Before(cutoff) {
			s.state = StateAborted
			s.parts = nil
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	open := len(m.sessions)
	m.mu.Unlock()
	metrics.MultipartSessions.Set(float64(open))

	if len(expired) > 0 {
		m.log.Info("Expired multipart sessions removed", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run reaps expired sessions every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	open := len(m.sessions)
	m.mu.Unlock()
	metrics.MultipartSessions.Set(float64(open))
}
