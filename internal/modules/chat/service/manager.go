package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"medq/internal/modules/chat/domain"
	chatout "medq/internal/modules/chat/port/out"
	"medq/internal/platform/clock"
	apperrors "medq/internal/platform/errors"
	"medq/internal/platform/id"
	"medq/internal/platform/logging"
	"medq/internal/platform/metrics"
)

const saveTimeout = 10 * time.Second

type EventKind string

const (
	EventStateLoaded     EventKind = "state_loaded"
	EventSessionCreated  EventKind = "session_created"
	EventSessionSelected EventKind = "session_selected"
	EventSessionDeleted  EventKind = "session_deleted"
	EventSessionsCleared EventKind = "sessions_cleared"
	EventQuestionAdded   EventKind = "question_added"
	EventEntryResolved   EventKind = "entry_resolved"
	EventStoreError      EventKind = "store_error"
)

// Event describes one state change. State is the snapshot taken right after
// the change; it is shared between observers and must not be modified.
type Event struct {
	Kind      EventKind
	SessionID string
	EntryID   string
	Err       error
	State     domain.SessionsState
}

type AskRequest struct {
	// SessionID selects the target session; empty means the selected one.
	SessionID string
	Question  string
	DeepThink bool
}

type inflight struct {
	entryID string
	cancel  context.CancelFunc
	started time.Time
}

type observer struct {
	id int
	fn func(Event)
}

// Manager owns the sessions state. Every mutation runs under mu and is
// persisted before the lock is released, so the store always sees
// mutations in order. At most one fetch per session is outstanding.
type Manager struct {
	clock   clock.Clock
	ids     id.Generator
	store   chatout.StateStore
	fetcher chatout.AnswerFetcher
	logger  *slog.Logger
	metrics *metrics.Metrics

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	state     domain.SessionsState
	inflight  map[string]*inflight
	waiters   map[string][]chan struct{}
	observers []observer
	nextObs   int
	closed    bool

	// notifyMu is taken before mu is released so observers see events in
	// mutation order.
	notifyMu sync.Mutex
}

func NewManager(
	clk clock.Clock,
	ids id.Generator,
	store chatout.StateStore,
	fetcher chatout.AnswerFetcher,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		clock:    clk,
		ids:      ids,
		store:    store,
		fetcher:  fetcher,
		logger:   logger,
		metrics:  m,
		base:     base,
		stop:     stop,
		state:    domain.SessionsState{Sessions: []domain.Session{}},
		inflight: map[string]*inflight{},
		waiters:  map[string][]chan struct{}{},
	}
}

// Load replaces the in-memory state with the stored one. A store failure
// leaves the manager with an empty state and is returned wrapped in
// ErrStore; callers treat it as a warning.
func (m *Manager) Load(ctx context.Context) error {
	state, err := m.store.Load(ctx)

	m.mu.Lock()
	m.dropAllLocked()
	if err != nil {
		m.state = domain.SessionsState{Sessions: []domain.Session{}}
		m.metrics.StoreFailed("load")
		m.logger.Warn("load sessions failed, starting empty", "err", err)
		wrapped := fmt.Errorf("%w: load: %w", apperrors.ErrStore, err)
		m.publishAndUnlock(Event{Kind: EventStoreError, Err: wrapped})
		return wrapped
	}
	repaired := state.Normalize(m.clock.Now())
	m.state = state
	m.logger.Debug("sessions loaded", "sessions", len(state.Sessions), "repaired", repaired)
	if repaired {
		m.persistAndUnlock(ctx, Event{Kind: EventStateLoaded})
		return nil
	}
	m.publishAndUnlock(Event{Kind: EventStateLoaded})
	return nil
}

// CreateSession puts a new empty session in front and selects it. An
// empty headline is filled from the first question asked.
func (m *Manager) CreateSession(ctx context.Context, headline string) string {
	m.mu.Lock()
	sessionID := m.newSessionLocked(strings.TrimSpace(headline))
	m.persistAndUnlock(ctx, Event{Kind: EventSessionCreated, SessionID: sessionID})
	return sessionID
}

// SelectSession is a no-op for unknown ids.
func (m *Manager) SelectSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if m.state.Index(sessionID) < 0 || m.state.SelectedSessionID == sessionID {
		m.mu.Unlock()
		return
	}
	m.state.SelectedSessionID = sessionID
	m.persistAndUnlock(ctx, Event{Kind: EventSessionSelected, SessionID: sessionID})
}

// DeleteSession cancels the session's outstanding fetch before removing
// it, so no late result can land on a removed session.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if m.state.Index(sessionID) < 0 {
		m.mu.Unlock()
		return
	}
	m.dropLocked(sessionID)
	m.state.Remove(sessionID)
	m.persistAndUnlock(ctx, Event{Kind: EventSessionDeleted, SessionID: sessionID})
}

func (m *Manager) ClearAllSessions(ctx context.Context) {
	m.mu.Lock()
	m.dropAllLocked()
	m.state = domain.SessionsState{Sessions: []domain.Session{}}
	m.persistAndUnlock(ctx, Event{Kind: EventSessionsCleared})
}

// AddQuestion appends a pending entry and starts its fetch. Without a
// session id the selected session is used, and with no selection a new
// session is created. A fetch still outstanding for the session is
// cancelled before the new entry is recorded.
func (m *Manager) AddQuestion(ctx context.Context, req AskRequest) (sessionID, entryID string, err error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", "", fmt.Errorf("%w: question is empty", apperrors.ErrInvalidInput)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", "", fmt.Errorf("session manager is closed")
	}
	events := make([]Event, 0, 3)
	sessionID = req.SessionID
	if sessionID == "" {
		sessionID = m.state.SelectedSessionID
	}
	idx := m.state.Index(sessionID)
	if idx < 0 {
		if req.SessionID != "" {
			m.mu.Unlock()
			return "", "", fmt.Errorf("%w: session %s", apperrors.ErrNotFound, req.SessionID)
		}
		sessionID = m.newSessionLocked("")
		idx = 0
		events = append(events, Event{Kind: EventSessionCreated, SessionID: sessionID})
	}
	if ev, ok := m.cancelLocked(sessionID); ok {
		events = append(events, ev)
	}

	now := m.clock.Now()
	entry := domain.QAEntry{
		ID:        m.ids.New(),
		Question:  question,
		Answer:    domain.Pending(),
		Followups: []string{},
		DeepThink: req.DeepThink,
		AskedAt:   now,
	}
	m.state.Sessions[idx].Append(entry)

	fetchCtx, cancel := context.WithCancel(m.base)
	m.inflight[sessionID] = &inflight{entryID: entry.ID, cancel: cancel, started: now}
	m.metrics.QuestionAdded()
	m.wg.Add(1)
	go m.fetch(fetchCtx, entry.ID, chatout.FetchRequest{Question: question, DeepThink: req.DeepThink})

	events = append(events, Event{Kind: EventQuestionAdded, SessionID: sessionID, EntryID: entry.ID})
	m.persistAndUnlock(ctx, events...)
	return sessionID, entry.ID, nil
}

// ResolveAnswer finalizes a pending entry with an answer. Unknown or
// already resolved entries are ignored.
func (m *Manager) ResolveAnswer(ctx context.Context, entryID, text string, followups []string) {
	m.resolve(ctx, entryID, domain.TextAnswer(text), followups)
}

// ResolveError finalizes a pending entry with an error message. Unknown or
// already resolved entries are ignored.
func (m *Manager) ResolveError(ctx context.Context, entryID, message string) {
	m.resolve(ctx, entryID, domain.ErrorAnswer(message), nil)
}

// CancelCurrentFetch cancels the selected session's outstanding fetch.
func (m *Manager) CancelCurrentFetch(ctx context.Context) {
	m.mu.Lock()
	sessionID := m.state.SelectedSessionID
	m.mu.Unlock()
	m.CancelFetch(ctx, sessionID)
}

func (m *Manager) CancelFetch(ctx context.Context, sessionID string) {
	m.mu.Lock()
	ev, ok := m.cancelLocked(sessionID)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.persistAndUnlock(ctx, ev)
}

// Await blocks until the entry leaves the pending state. It fails with
// ErrNotFound when the entry does not exist or its session is removed
// while waiting.
func (m *Manager) Await(ctx context.Context, entryID string) (domain.QAEntry, error) {
	for {
		m.mu.Lock()
		si, ei, ok := m.state.FindEntry(entryID)
		if !ok {
			m.mu.Unlock()
			return domain.QAEntry{}, fmt.Errorf("%w: entry %s", apperrors.ErrNotFound, entryID)
		}
		entry := m.state.Sessions[si].QAHistory[ei]
		if !entry.Answer.IsPending() {
			entry.Followups = append([]string{}, entry.Followups...)
			m.mu.Unlock()
			return entry, nil
		}
		done := make(chan struct{})
		m.waiters[entryID] = append(m.waiters[entryID], done)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.dropWaiterLocked(entryID, done)
			m.mu.Unlock()
			return domain.QAEntry{}, ctx.Err()
		case <-done:
		}
	}
}

func (m *Manager) Snapshot() domain.SessionsState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

func (m *Manager) Session(sessionID string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.state.Index(sessionID)
	if idx < 0 {
		return domain.Session{}, false
	}
	return m.state.Sessions[idx].Clone(), true
}

func (m *Manager) CurrentSession() (domain.Session, bool) {
	m.mu.Lock()
	selected := m.state.SelectedSessionID
	m.mu.Unlock()
	return m.Session(selected)
}

// Subscribe registers fn for every subsequent event. fn runs synchronously
// on the mutating goroutine: it must not block and must not call any
// Manager method.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextObs++
	obsID := m.nextObs
	m.observers = append(m.observers, observer{id: obsID, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.observers {
			if o.id == obsID {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Close cancels every outstanding fetch and waits for fetch goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var events []Event
	for sessionID := range m.inflight {
		if ev, ok := m.cancelLocked(sessionID); ok {
			events = append(events, ev)
		}
	}
	if len(events) > 0 {
		m.persistAndUnlock(context.Background(), events...)
	} else {
		m.mu.Unlock()
	}
	m.stop()
	m.wg.Wait()
}

func (m *Manager) fetch(ctx context.Context, entryID string, req chatout.FetchRequest) {
	defer m.wg.Done()
	result, err := m.fetcher.Fetch(ctx, req)
	bg := context.Background()
	switch {
	case ctx.Err() != nil:
		// Normally already finalized by the canceller; this covers Close.
		m.ResolveError(bg, entryID, domain.CancelledMessage)
	case err != nil:
		m.logger.Info("answer fetch failed", "entry", entryID, "err", err)
		m.ResolveError(bg, entryID, fetchMessage(err))
	case strings.TrimSpace(result.Answer) == "":
		m.ResolveError(bg, entryID, domain.EmptyAnswerMessage)
	default:
		m.ResolveAnswer(bg, entryID, result.Answer, result.Followups)
	}
}

func fetchMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	msg := err.Error()
	if errors.Is(err, apperrors.ErrFetch) {
		msg = strings.TrimPrefix(msg, apperrors.ErrFetch.Error()+": ")
	}
	return msg
}

func (m *Manager) resolve(ctx context.Context, entryID string, answer domain.Answer, followups []string) {
	m.mu.Lock()
	ev, ok := m.resolveLocked(entryID, answer, followups)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.persistAndUnlock(ctx, ev)
}

func (m *Manager) newSessionLocked(headline string) string {
	session := domain.Session{
		ID:        m.ids.New(),
		Headline:  headline,
		CreatedAt: m.clock.Now(),
		QAHistory: []domain.QAEntry{},
	}
	m.state.Sessions = append([]domain.Session{session}, m.state.Sessions...)
	m.state.SelectedSessionID = session.ID
	return session.ID
}

// resolveLocked applies a terminal answer exactly once per entry.
func (m *Manager) resolveLocked(entryID string, answer domain.Answer, followups []string) (Event, bool) {
	si, ei, ok := m.state.FindEntry(entryID)
	if !ok {
		return Event{}, false
	}
	session := &m.state.Sessions[si]
	now := m.clock.Now()
	if !session.QAHistory[ei].Resolve(answer, followups, now) {
		return Event{}, false
	}
	if fl, ok := m.inflight[session.ID]; ok && fl.entryID == entryID {
		delete(m.inflight, session.ID)
		fl.cancel()
		m.metrics.FetchResolved(outcome(answer), now.Sub(fl.started))
	}
	m.wakeLocked(entryID)
	return Event{Kind: EventEntryResolved, SessionID: session.ID, EntryID: entryID}, true
}

// cancelLocked aborts the session's outstanding fetch and marks its entry
// cancelled.
func (m *Manager) cancelLocked(sessionID string) (Event, bool) {
	fl, ok := m.inflight[sessionID]
	if !ok {
		return Event{}, false
	}
	m.logger.Debug("cancelling answer fetch", "session", sessionID, "entry", fl.entryID)
	return m.resolveLocked(fl.entryID, domain.ErrorAnswer(domain.CancelledMessage), nil)
}

// dropLocked aborts the session's outstanding fetch without touching the
// entry, for sessions about to be removed.
func (m *Manager) dropLocked(sessionID string) {
	fl, ok := m.inflight[sessionID]
	if !ok {
		return
	}
	delete(m.inflight, sessionID)
	fl.cancel()
	m.metrics.FetchDropped()
	m.wakeLocked(fl.entryID)
}

func (m *Manager) dropAllLocked() {
	for sessionID := range m.inflight {
		m.dropLocked(sessionID)
	}
	for entryID := range m.waiters {
		m.wakeLocked(entryID)
	}
}

func (m *Manager) dropWaiterLocked(entryID string, done chan struct{}) {
	chans := m.waiters[entryID]
	for i, ch := range chans {
		if ch == done {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(m.waiters, entryID)
		return
	}
	m.waiters[entryID] = chans
}

func (m *Manager) wakeLocked(entryID string) {
	for _, ch := range m.waiters[entryID] {
		close(ch)
	}
	delete(m.waiters, entryID)
}

func (m *Manager) save(ctx context.Context) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := m.store.Save(saveCtx, m.state.Clone()); err != nil {
		m.metrics.StoreFailed("save")
		m.logger.Warn("persist sessions failed", "err", err)
		return fmt.Errorf("%w: save: %w", apperrors.ErrStore, err)
	}
	return nil
}

// persistAndUnlock saves the state and publishes events. It must be called
// with mu held and returns with mu released.
func (m *Manager) persistAndUnlock(ctx context.Context, events ...Event) {
	if err := m.save(ctx); err != nil {
		events = append(events, Event{Kind: EventStoreError, Err: err})
	}
	m.publishAndUnlock(events...)
}

func (m *Manager) publishAndUnlock(events ...Event) {
	if len(m.observers) == 0 {
		m.mu.Unlock()
		return
	}
	snapshot := m.state.Clone()
	observers := append([]observer(nil), m.observers...)
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	for _, ev := range events {
		ev.State = snapshot
		for _, o := range observers {
			o.fn(ev)
		}
	}
}

func outcome(answer domain.Answer) string {
	switch {
	case answer.Status == domain.AnswerText:
		return metrics.OutcomeAnswered
	case answer.Text == domain.CancelledMessage:
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeError
	}
}
