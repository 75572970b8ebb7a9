// Package session manages live inference sessions: per-session context
// windows, style-drift checks on generated replies, generation
// deadlines and idle reaping. Closed sessions stay queryable through
// the Store archive.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

const (
	defaultTemperature = 0.8
	defaultMaxWords    = 60
)

type liveSession struct {
	*Session
	generator Generator
	profile   *styleprofile.Profile

	// replyMu serializes turns. It is separate from Session.mu so a
	// session can be closed while a generation is in flight; the
	// in-flight result is then discarded.
	replyMu sync.Mutex
}

// Manager owns the live sessions of a running adapter (bot, web, demo).
type Manager struct {
	cfg     config.ServingConfig
	store   *Store
	factory GeneratorFactory

	mu       sync.Mutex
	sessions map[string]*liveSession

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a Manager and starts the idle reaper when an idle
// timeout is configured.
func NewManager(cfg config.ServingConfig, store *Store, factory GeneratorFactory) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		factory:  factory,
		sessions: map[string]*liveSession{},
		stop:     make(chan struct{}),
	}
	if cfg.SessionIdleTimeout > 0 {
		go m.reapLoop()
	}
	return m
}

// Stop halts the idle reaper. Live sessions remain usable.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Open starts a session for the user, bound to their current artifact.
func (m *Manager) Open(ctx context.Context, userID string) (*Session, error) {
	generator, profile, artifactHash, err := m.factory.Build(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		ArtifactHash: artifactHash,
		OpenedAt:     now,
		lastActive:   now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = &liveSession{Session: sess, generator: generator, profile: profile}
	m.mu.Unlock()
	return sess, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls.Session, nil
}

// Reply appends the incoming message to the session and generates the
// persona's reply. Replies on the same session are serialized;
// different sessions generate concurrently.
func (m *Manager) Reply(ctx context.Context, sessionID, text string) (*Turn, error) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	ls.replyMu.Lock()
	defer ls.replyMu.Unlock()

	// A rollback or a training job completing mid-session takes effect
	// here, on the next reply.
	if err := m.refreshGenerator(ctx, ls); err != nil {
		return nil, err
	}

	// Record the incoming turn and snapshot the context window.
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil, ErrSessionClosed
	}
	userTurn := Turn{
		Index:     ls.seq,
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
	ls.seq++
	ls.turns = append(ls.turns, userTurn)
	ls.lastActive = time.Now()
	history := contextWindow(ls.turns[:len(ls.turns)-1], m.cfg.MaxContextTurns)
	m.boundTurnsLocked(ls)
	ls.mu.Unlock()

	if err := m.store.AppendTurn(ctx, sessionID, userTurn); err != nil {
		return nil, err
	}

	reply, similarity, drifted, err := m.generate(ctx, ls, Request{
		History:     history,
		Incoming:    text,
		Temperature: defaultTemperature,
		MaxWords:    defaultMaxWords,
	})
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	if ls.closed {
		// Closed while generating; the reply is discarded.
		ls.mu.Unlock()
		return nil, ErrSessionClosed
	}
	turn := Turn{
		Index:           ls.seq,
		Role:            RoleAssistant,
		Text:            reply,
		StyleSimilarity: similarity,
		DriftWarning:    drifted,
		CreatedAt:       time.Now(),
	}
	ls.seq++
	ls.turns = append(ls.turns, turn)
	ls.lastActive = time.Now()
	m.boundTurnsLocked(ls)
	ls.mu.Unlock()

	if err := m.store.AppendTurn(ctx, sessionID, turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

// refreshGenerator swaps in a generator for the user's current artifact
// when it differs from the one the session was opened with. A probe
// failure keeps the current generator; the session outlives store
// hiccups.
func (m *Manager) refreshGenerator(ctx context.Context, ls *liveSession) error {
	hash, err := m.factory.LatestHash(ctx, ls.UserID)
	if err != nil {
		return nil
	}

	ls.mu.Lock()
	current := ls.ArtifactHash
	ls.mu.Unlock()
	if hash == current {
		return nil
	}

	generator, profile, hash, err := m.factory.Build(ctx, ls.UserID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	ls.generator = generator
	ls.profile = profile
	ls.ArtifactHash = hash
	ls.mu.Unlock()
	return nil
}

// boundTurnsLocked drops the oldest in-memory turns beyond the context
// window. Callers hold ls.mu. The Store keeps the full history.
func (m *Manager) boundTurnsLocked(ls *liveSession) {
	n := m.cfg.MaxContextTurns
	if n <= 0 || len(ls.turns) <= n {
		return
	}
	kept := make([]Turn, n)
	copy(kept, ls.turns[len(ls.turns)-n:])
	ls.turns = kept
}

// generate produces a candidate, scores it against the style profile
// and retries once with cooler sampling when it drifts. The better of
// the two candidates wins.
func (m *Manager) generate(ctx context.Context, ls *liveSession, req Request) (string, float64, bool, error) {
	candidate, err := m.generateWithTimeout(ctx, ls, req)
	if err != nil {
		return "", 0, false, err
	}

	score := ls.profile.Score(candidate)
	if score >= m.cfg.StyleDriftThreshold {
		return candidate, score, false, nil
	}

	retry := req
	retry.Temperature = req.Temperature * 0.75
	second, err := m.generateWithTimeout(ctx, ls, retry)
	if err != nil {
		// The first candidate is still usable; flag the drift.
		return candidate, score, true, nil
	}
	if s := ls.profile.Score(second); s > score {
		candidate, score = second, s
	}
	return candidate, score, score < m.cfg.StyleDriftThreshold, nil
}

// generateWithTimeout bounds one generation by the configured deadline,
// retrying once at half length before giving up.
func (m *Manager) generateWithTimeout(ctx context.Context, ls *liveSession, req Request) (string, error) {
	attempt := func(r Request) (string, error) {
		genCtx := ctx
		if m.cfg.GenerationTimeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(ctx, m.cfg.GenerationTimeout)
			defer cancel()
		}
		return ls.generator.Generate(genCtx, r)
	}

	out, err := attempt(req)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "", err
	}

	shorter := req
	shorter.MaxWords = req.MaxWords / 2
	if shorter.MaxWords < 1 {
		shorter.MaxWords = 1
	}
	out, err = attempt(shorter)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", &TimeoutError{SessionID: ls.ID, Timeout: m.cfg.GenerationTimeout}
	}
	return "", err
}

// Close ends a live session. Safe to call while a reply is generating;
// the pending reply is discarded.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	ls.mu.Lock()
	alreadyClosed := ls.closed
	ls.closed = true
	ls.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return m.store.CloseSession(ctx, sessionID, time.Now())
}

// Active returns the ids of live sessions.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) reapLoop() {
	interval := m.cfg.SessionIdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapIdle(time.Now())
		}
	}
}

// reapIdle closes sessions whose last activity is older than the idle
// timeout and returns their ids.
func (m *Manager) reapIdle(now time.Time) []string {
	m.mu.Lock()
	var expired []string
	for id, ls := range m.sessions {
		ls.mu.Lock()
		if now.Sub(ls.lastActive) > m.cfg.SessionIdleTimeout {
			expired = append(expired, id)
		}
		ls.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Printf("session: reaping %s: %v", id, err)
		}
		cancel()
	}
	return expired
}

// contextWindow returns the newest n turns, oldest first.
func contextWindow(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		out := make([]Turn, len(turns))
		copy(out, turns)
		return out
	}
	out := make([]Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
