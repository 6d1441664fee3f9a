package domain

import (
	"strings"
	"time"
)

const SchemaVersion = 1

const (
	DefaultHeadline    = "New Chat"
	CancelledMessage   = "cancelled"
	InterruptedMessage = "interrupted"
	EmptyAnswerMessage = "failed to get a valid response from the server"
)

type AnswerStatus string

const (
	AnswerPending AnswerStatus = "pending"
	AnswerText    AnswerStatus = "text"
	AnswerError   AnswerStatus = "error"
)

// Answer is Pending, Text(s) or Error(s). Text holds the answer body or
// the error message depending on Status.
type Answer struct {
	Status AnswerStatus `json:"status"`
	Text   string       `json:"text,omitempty"`
}

func Pending() Answer               { return Answer{Status: AnswerPending} }
func TextAnswer(text string) Answer { return Answer{Status: AnswerText, Text: text} }
func ErrorAnswer(msg string) Answer { return Answer{Status: AnswerError, Text: msg} }

func (a Answer) IsPending() bool { return a.Status == AnswerPending }

type QAEntry struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     Answer    `json:"answer"`
	Followups  []string  `json:"followupQuestions"`
	DeepThink  bool      `json:"deepThink,omitempty"`
	AskedAt    time.Time `json:"askedAt"`
	AnsweredAt time.Time `json:"answeredAt,omitzero"`
}

// Resolve moves a pending entry to its terminal answer. It reports false
// and leaves the entry untouched when the entry is already resolved.
func (e *QAEntry) Resolve(answer Answer, followups []string, at time.Time) bool {
	if !e.Answer.IsPending() || answer.IsPending() {
		return false
	}
	e.Answer = answer
	e.AnsweredAt = at
	if answer.Status == AnswerText {
		e.Followups = append([]string{}, followups...)
	} else {
		e.Followups = []string{}
	}
	return true
}

type Session struct {
	ID        string    `json:"id"`
	Headline  string    `json:"headline"`
	CreatedAt time.Time `json:"createdAt"`
	QAHistory []QAEntry `json:"qaHistory"`
}

// Title is the label shown for a session that has not been asked anything yet.
func (s Session) Title() string {
	if s.Headline == "" {
		return DefaultHeadline
	}
	return s.Headline
}

// PendingEntry returns the index of the outstanding entry, or -1.
func (s Session) PendingEntry() int {
	for i := range s.QAHistory {
		if s.QAHistory[i].Answer.IsPending() {
			return i
		}
	}
	return -1
}

// Append records a new pending question. The headline is taken from the
// first question only when none was set at creation.
func (s *Session) Append(entry QAEntry) {
	if s.Headline == "" && len(s.QAHistory) == 0 {
		s.Headline = strings.TrimSpace(entry.Question)
	}
	s.QAHistory = append(s.QAHistory, entry)
}

func (s Session) Entry(entryID string) (int, bool) {
	for i := range s.QAHistory {
		if s.QAHistory[i].ID == entryID {
			return i, true
		}
	}
	return -1, false
}

// SessionsState is the root persisted object. SelectedSessionID is empty
// when nothing is selected.
type SessionsState struct {
	Sessions          []Session `json:"sessions"`
	SelectedSessionID string    `json:"selectedSessionId,omitempty"`
}

func (s SessionsState) Index(sessionID string) int {
	if sessionID == "" {
		return -1
	}
	for i := range s.Sessions {
		if s.Sessions[i].ID == sessionID {
			return i
		}
	}
	return -1
}

// FindEntry locates an entry by id across all sessions.
func (s SessionsState) FindEntry(entryID string) (sessionIdx, entryIdx int, ok bool) {
	for i := range s.Sessions {
		if j, found := s.Sessions[i].Entry(entryID); found {
			return i, j, true
		}
	}
	return -1, -1, false
}

// Remove drops a session and repairs the selection: a removed selected
// session hands selection to the first remaining session, or to none.
func (s *SessionsState) Remove(sessionID string) bool {
	idx := s.Index(sessionID)
	if idx < 0 {
		return false
	}
	s.Sessions = append(s.Sessions[:idx], s.Sessions[idx+1:]...)
	if s.SelectedSessionID == sessionID {
		s.SelectedSessionID = ""
		if len(s.Sessions) > 0 {
			s.SelectedSessionID = s.Sessions[0].ID
		}
	}
	return true
}

// Normalize repairs state read from storage: nil slices become empty,
// pending entries left by a dead process become interrupted errors and a
// dangling selection is reassigned. It reports whether anything changed.
func (s *SessionsState) Normalize(at time.Time) bool {
	changed := false
	if s.Sessions == nil {
		s.Sessions = []Session{}
	}
	for i := range s.Sessions {
		if s.Sessions[i].QAHistory == nil {
			s.Sessions[i].QAHistory = []QAEntry{}
		}
		for j := range s.Sessions[i].QAHistory {
			entry := &s.Sessions[i].QAHistory[j]
			if entry.Followups == nil {
				entry.Followups = []string{}
			}
			if entry.Resolve(ErrorAnswer(InterruptedMessage), nil, at) {
				changed = true
			}
		}
	}
	if s.SelectedSessionID != "" && s.Index(s.SelectedSessionID) < 0 {
		s.SelectedSessionID = ""
		if len(s.Sessions) > 0 {
			s.SelectedSessionID = s.Sessions[0].ID
		}
		changed = true
	}
	return changed
}

// Clone returns a deep copy that shares no slices with s.
func (s SessionsState) Clone() SessionsState {
	out := SessionsState{
		Sessions:          make([]Session, len(s.Sessions)),
		SelectedSessionID: s.SelectedSessionID,
	}
	for i, session := range s.Sessions {
		out.Sessions[i] = session.Clone()
	}
	return out
}

func (s Session) Clone() Session {
	out := s
	out.QAHistory = make([]QAEntry, len(s.QAHistory))
	for i, entry := range s.QAHistory {
		entry.Followups = append([]string{}, entry.Followups...)
		out.QAHistory[i] = entry
	}
	return out
}
