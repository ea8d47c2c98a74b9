// internal/services/session_service.go
package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/Corphon/FlagLens/internal/errors"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/models"
)

// DefaultMaxSessions bounds the in-memory session table.
const DefaultMaxSessions = 1000

// 会话事件类型
const (
	EventAnalysisStarted   = "analysis_started"
	EventAnalysisCompleted = "analysis_completed"
	EventAnalysisFailed    = "analysis_failed"
	EventSessionSnapshot   = "session_snapshot"
)

// Session is the state one browser holds: the image on display, its
// analysis, and whether a request is outstanding.
type Session struct {
	ID        string
	Image     *intake.EncodedImage
	Analysis  string
	Segments  []models.Segment
	Status    models.SessionStatus
	Error     string
	UpdatedAt time.Time

	mutex       sync.Mutex
	subscribers map[chan models.SessionEvent]bool
}

// SeedFunc supplies the image and analysis a fresh session starts with.
type SeedFunc func() (*intake.EncodedImage, string, []models.Segment)

// SessionService 管理所有会话. Sessions are kept in memory only; the least
// recently used one is evicted once the table is full.
type SessionService struct {
	sessions *lru.Cache[string, *Session]
	seed     SeedFunc
	mutex    sync.Mutex
}

// NewSessionService creates the session table. seed may be nil, in which
// case new sessions start idle with nothing on display.
func NewSessionService(maxSessions int, seed SeedFunc) (*SessionService, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	cache, err := lru.NewWithEvict[string, *Session](maxSessions, func(_ string, s *Session) {
		s.closeSubscribers()
	})
	if err != nil {
		return nil, err
	}
	return &SessionService{sessions: cache, seed: seed}, nil
}

// Create starts a new session and returns its snapshot.
func (s *SessionService) Create() models.SessionView {
	session := s.newSession(uuid.NewString())
	s.sessions.Add(session.ID, session)
	return session.view()
}

// GetOrCreate returns the session for id, creating it when id is empty or
// unknown. The second result reports whether a new session was made.
func (s *SessionService) GetOrCreate(id string) (models.SessionView, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if id != "" {
		if session, ok := s.sessions.Get(id); ok {
			return session.view(), false
		}
	}
	if _, err := uuid.Parse(id); err != nil {
		return s.Create(), true
	}
	session := s.newSession(id)
	s.sessions.Add(id, session)
	return session.view(), true
}

func (s *SessionService) newSession(id string) *Session {
	session := &Session{
		ID:          id,
		Status:      models.StatusIdle,
		Segments:    []models.Segment{},
		UpdatedAt:   time.Now(),
		subscribers: make(map[chan models.SessionEvent]bool),
	}
	if s.seed != nil {
		if image, text, segments := s.seed(); image != nil {
			session.Image = image
			session.Analysis = text
			session.Segments = segments
			session.Status = models.StatusReady
		}
	}
	return session
}

func (s *SessionService) lookup(id string) (*Session, error) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	return session, nil
}

// Get 获取会话快照
func (s *SessionService) Get(id string) (models.SessionView, error) {
	session, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}
	return session.view(), nil
}

// Image returns the image currently on display for id.
func (s *SessionService) Image(id string) (*intake.EncodedImage, error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.Image == nil {
		return nil, apperrors.NewValidationError("No image selected", nil)
	}
	return session.Image, nil
}

// Begin moves the session to loading. A second request while one is
// outstanding is refused with a conflict error.
func (s *SessionService) Begin(id string) error {
	session, err := s.lookup(id)
	if err != nil {
		return err
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.Status == models.StatusLoading {
		return apperrors.NewConflictError("An analysis is already in progress", nil)
	}
	session.Status = models.StatusLoading
	session.Error = ""
	session.UpdatedAt = time.Now()
	session.publishLocked(EventAnalysisStarted)
	return nil
}

// Complete replaces image and analysis wholesale and moves to ready.
func (s *SessionService) Complete(id string, image *intake.EncodedImage, text string, segments []models.Segment) error {
	session, err := s.lookup(id)
	if err != nil {
		return err
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()

	if image != nil {
		session.Image = image
	}
	session.Analysis = text
	session.Segments = segments
	session.Status = models.StatusReady
	session.Error = ""
	session.UpdatedAt = time.Now()
	session.publishLocked(EventAnalysisCompleted)
	return nil
}

// Fail records message and moves to failed; image and analysis stay as they were.
func (s *SessionService) Fail(id string, message string) error {
	session, err := s.lookup(id)
	if err != nil {
		return err
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()

	session.Status = models.StatusFailed
	session.Error = message
	session.UpdatedAt = time.Now()
	session.publishLocked(EventAnalysisFailed)
	return nil
}

// Subscribe registers a channel for transitions of id. The current state is
// delivered first. The returned func unsubscribes and closes the channel.
func (s *SessionService) Subscribe(id string) (<-chan models.SessionEvent, func(), error) {
	session, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan models.SessionEvent, 8)

	session.mutex.Lock()
	session.subscribers[ch] = true
	ch <- session.eventLocked(EventSessionSnapshot)
	session.mutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			session.mutex.Lock()
			defer session.mutex.Unlock()
			if session.subscribers[ch] {
				delete(session.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// Len reports how many sessions are held.
func (s *SessionService) Len() int {
	return s.sessions.Len()
}

func (session *Session) view() models.SessionView {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	v := models.SessionView{
		ID:        session.ID,
		Status:    session.Status,
		Analysis:  session.Analysis,
		Segments:  session.Segments,
		Error:     session.Error,
		UpdatedAt: session.UpdatedAt,
	}
	if session.Image != nil {
		v.ImageURI = session.Image.DataURI()
		v.ImageMIME = session.Image.MIMEType
	}
	return v
}

func (session *Session) eventLocked(eventType string) models.SessionEvent {
	return models.SessionEvent{
		Type:      eventType,
		SessionID: session.ID,
		Status:    session.Status,
		Segments:  session.Segments,
		Error:     session.Error,
		Timestamp: session.UpdatedAt,
	}
}

// publishLocked 通知所有订阅者，慢速订阅者会丢失事件
func (session *Session) publishLocked(eventType string) {
	event := session.eventLocked(eventType)
	for ch := range session.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (session *Session) closeSubscribers() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	for ch := range session.subscribers {
		delete(session.subscribers, ch)
		close(ch)
	}
}
