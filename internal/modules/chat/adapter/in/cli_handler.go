package in

import (
	"context"

	"medq/internal/modules/chat/dto"
	chatin "medq/internal/modules/chat/port/in"
)

type CLIHandler struct {
	usecase chatin.Usecase
}

func NewCLIHandler(usecase chatin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Ask(ctx context.Context, sessionID, question string, deepThink, wait bool) (dto.AskOutput, error) {
	return h.usecase.Ask(ctx, dto.AskInput{SessionID: sessionID, Question: question, DeepThink: deepThink, Wait: wait})
}

func (h CLIHandler) State(ctx context.Context) (dto.StateOutput, error) {
	return h.usecase.State(ctx)
}

func (h CLIHandler) Show(ctx context.Context, sessionID string) (dto.SessionOutput, error) {
	return h.usecase.GetSession(ctx, sessionID)
}

func (h CLIHandler) NewSession(ctx context.Context, headline string) (dto.SessionOutput, error) {
	return h.usecase.CreateSession(ctx, dto.CreateSessionInput{Headline: headline})
}

func (h CLIHandler) Select(ctx context.Context, sessionID string) (dto.StateOutput, error) {
	return h.usecase.SelectSession(ctx, sessionID)
}

func (h CLIHandler) Delete(ctx context.Context, sessionID string) (dto.StateOutput, error) {
	return h.usecase.DeleteSession(ctx, sessionID)
}

func (h CLIHandler) Clear(ctx context.Context) (dto.StateOutput, error) {
	return h.usecase.ClearSessions(ctx)
}

func (h CLIHandler) Export(ctx context.Context, sessionID string) (dto.ExportOutput, error) {
	return h.usecase.Export(ctx, sessionID)
}

func (h CLIHandler) Suggestions(ctx context.Context) []string {
	return h.usecase.Suggestions(ctx)
}
