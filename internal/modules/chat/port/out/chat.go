package out

import (
	"context"

	"medq/internal/modules/chat/domain"
)

// StateStore persists the whole sessions state. Load on an empty store
// returns an empty state and no error.
type StateStore interface {
	Load(ctx context.Context) (domain.SessionsState, error)
	Save(ctx context.Context, state domain.SessionsState) error
}

type FetchRequest struct {
	Question  string
	DeepThink bool
}

type FetchResult struct {
	Answer    string
	Followups []string
}

// AnswerFetcher asks the remote Q&A backend. Cancelling ctx aborts the
// request; implementations return ctx.Err() (possibly wrapped) in that case.
type AnswerFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

type TranscriptExporter interface {
	Export(ctx context.Context, session domain.Session) (string, error)
}
