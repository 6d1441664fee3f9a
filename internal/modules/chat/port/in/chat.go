package in

import (
	"context"

	"medq/internal/modules/chat/dto"
)

type Usecase interface {
	State(ctx context.Context) (dto.StateOutput, error)
	GetSession(ctx context.Context, sessionID string) (dto.SessionOutput, error)
	CreateSession(ctx context.Context, input dto.CreateSessionInput) (dto.SessionOutput, error)
	SelectSession(ctx context.Context, sessionID string) (dto.StateOutput, error)
	DeleteSession(ctx context.Context, sessionID string) (dto.StateOutput, error)
	ClearSessions(ctx context.Context) (dto.StateOutput, error)
	Ask(ctx context.Context, input dto.AskInput) (dto.AskOutput, error)
	CancelCurrent(ctx context.Context) error
	Export(ctx context.Context, sessionID string) (dto.ExportOutput, error)
	Suggestions(ctx context.Context) []string
}
