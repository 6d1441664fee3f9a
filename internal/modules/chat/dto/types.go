package dto

import "time"

type EntryOutput struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Status     string    `json:"status"`
	Answer     string    `json:"answer,omitempty"`
	Error      string    `json:"error,omitempty"`
	Followups  []string  `json:"followup_questions"`
	DeepThink  bool      `json:"deep_think,omitempty"`
	AskedAt    time.Time `json:"asked_at"`
	AnsweredAt time.Time `json:"answered_at,omitzero"`
}

type SessionOutput struct {
	ID        string        `json:"id"`
	Headline  string        `json:"headline"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	Pending   bool          `json:"pending"`
	Entries   []EntryOutput `json:"entries"`
}

type StateOutput struct {
	SelectedSessionID string          `json:"selected_session_id,omitempty"`
	Sessions          []SessionOutput `json:"sessions"`
}

type AskInput struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	DeepThink bool   `json:"deep_think"`
	// Wait blocks until the answer resolves.
	Wait bool `json:"wait"`
}

type AskOutput struct {
	SessionID string      `json:"session_id"`
	Entry     EntryOutput `json:"entry"`
}

type CreateSessionInput struct {
	Headline string `json:"headline"`
}

type ExportOutput struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}
