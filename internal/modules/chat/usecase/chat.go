package usecase

import (
	"context"
	"errors"
	"fmt"

	"medq/internal/modules/chat/domain"
	"medq/internal/modules/chat/dto"
	chatin "medq/internal/modules/chat/port/in"
	chatout "medq/internal/modules/chat/port/out"
	"medq/internal/modules/chat/service"
	apperrors "medq/internal/platform/errors"
)

type Interactor struct {
	manager     *service.Manager
	exporter    chatout.TranscriptExporter
	suggestions []string
}

func NewInteractor(manager *service.Manager, exporter chatout.TranscriptExporter, suggestions []string) chatin.Usecase {
	return &Interactor{
		manager:     manager,
		exporter:    exporter,
		suggestions: append([]string{}, suggestions...),
	}
}

func (i *Interactor) State(context.Context) (dto.StateOutput, error) {
	return ToStateOutput(i.manager.Snapshot()), nil
}

func (i *Interactor) GetSession(_ context.Context, sessionID string) (dto.SessionOutput, error) {
	session, ok := i.manager.Session(sessionID)
	if !ok {
		return dto.SessionOutput{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}
	return ToSessionOutput(session), nil
}

func (i *Interactor) CreateSession(ctx context.Context, input dto.CreateSessionInput) (dto.SessionOutput, error) {
	sessionID := i.manager.CreateSession(ctx, input.Headline)
	return i.GetSession(ctx, sessionID)
}

func (i *Interactor) SelectSession(ctx context.Context, sessionID string) (dto.StateOutput, error) {
	if _, ok := i.manager.Session(sessionID); !ok {
		return dto.StateOutput{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}
	i.manager.SelectSession(ctx, sessionID)
	return i.State(ctx)
}

func (i *Interactor) DeleteSession(ctx context.Context, sessionID string) (dto.StateOutput, error) {
	if _, ok := i.manager.Session(sessionID); !ok {
		return dto.StateOutput{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}
	i.manager.DeleteSession(ctx, sessionID)
	return i.State(ctx)
}

func (i *Interactor) ClearSessions(ctx context.Context) (dto.StateOutput, error) {
	i.manager.ClearAllSessions(ctx)
	return i.State(ctx)
}

// Ask records the question and, with Wait set, blocks until it resolves.
// Giving up on the wait cancels the fetch so nothing is left pending.
func (i *Interactor) Ask(ctx context.Context, input dto.AskInput) (dto.AskOutput, error) {
	sessionID, entryID, err := i.manager.AddQuestion(ctx, service.AskRequest{
		SessionID: input.SessionID,
		Question:  input.Question,
		DeepThink: input.DeepThink,
	})
	if err != nil {
		return dto.AskOutput{}, err
	}

	if input.Wait {
		entry, err := i.manager.Await(ctx, entryID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				i.manager.CancelFetch(context.WithoutCancel(ctx), sessionID)
				return dto.AskOutput{}, fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
			}
			return dto.AskOutput{}, err
		}
		return dto.AskOutput{SessionID: sessionID, Entry: ToEntryOutput(entry)}, nil
	}

	session, ok := i.manager.Session(sessionID)
	if !ok {
		return dto.AskOutput{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, sessionID)
	}
	idx, ok := session.Entry(entryID)
	if !ok {
		return dto.AskOutput{}, fmt.Errorf("%w: entry %s", apperrors.ErrNotFound, entryID)
	}
	return dto.AskOutput{SessionID: sessionID, Entry: ToEntryOutput(session.QAHistory[idx])}, nil
}

func (i *Interactor) CancelCurrent(ctx context.Context) error {
	i.manager.CancelCurrentFetch(ctx)
	return nil
}

func (i *Interactor) Export(ctx context.Context, sessionID string) (dto.ExportOutput, error) {
	if i.exporter == nil {
		return dto.ExportOutput{}, fmt.Errorf("transcript exporter is not configured")
	}
	var (
		session domain.Session
		ok      bool
	)
	if sessionID == "" {
		session, ok = i.manager.CurrentSession()
	} else {
		session, ok = i.manager.Session(sessionID)
	}
	if !ok {
		return dto.ExportOutput{}, fmt.Errorf("%w: session %q", apperrors.ErrNotFound, sessionID)
	}
	path, err := i.exporter.Export(ctx, session)
	if err != nil {
		return dto.ExportOutput{}, err
	}
	return dto.ExportOutput{SessionID: session.ID, Path: path}, nil
}

func (i *Interactor) Suggestions(context.Context) []string {
	return append([]string{}, i.suggestions...)
}

func ToStateOutput(state domain.SessionsState) dto.StateOutput {
	out := dto.StateOutput{
		SelectedSessionID: state.SelectedSessionID,
		Sessions:          make([]dto.SessionOutput, 0, len(state.Sessions)),
	}
	for _, session := range state.Sessions {
		out.Sessions = append(out.Sessions, ToSessionOutput(session))
	}
	return out
}

func ToSessionOutput(session domain.Session) dto.SessionOutput {
	out := dto.SessionOutput{
		ID:        session.ID,
		Headline:  session.Headline,
		Title:     session.Title(),
		CreatedAt: session.CreatedAt,
		Pending:   session.PendingEntry() >= 0,
		Entries:   make([]dto.EntryOutput, 0, len(session.QAHistory)),
	}
	for _, entry := range session.QAHistory {
		out.Entries = append(out.Entries, ToEntryOutput(entry))
	}
	return out
}

func ToEntryOutput(entry domain.QAEntry) dto.EntryOutput {
	out := dto.EntryOutput{
		ID:         entry.ID,
		Question:   entry.Question,
		Status:     string(entry.Answer.Status),
		Followups:  append([]string{}, entry.Followups...),
		DeepThink:  entry.DeepThink,
		AskedAt:    entry.AskedAt,
		AnsweredAt: entry.AnsweredAt,
	}
	switch entry.Answer.Status {
	case domain.AnswerText:
		out.Answer = entry.Answer.Text
	case domain.AnswerError:
		out.Error = entry.Answer.Text
	}
	return out
}
