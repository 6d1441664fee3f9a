package out

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	chatout "medq/internal/modules/chat/port/out"
	"medq/internal/platform/config"
	apperrors "medq/internal/platform/errors"
)

const maxAnswerBytes = 4 << 20

type HTTPAnswerFetcher struct {
	backend config.BackendConfig
	client  *http.Client
}

// NewHTTPAnswerFetcher builds a fetcher for the standard and DeepThink
// deployments. A nil client uses http.DefaultClient.
func NewHTTPAnswerFetcher(backend config.BackendConfig, client *http.Client) chatout.AnswerFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAnswerFetcher{backend: backend, client: client}
}

type answerPayload struct {
	Answer    string            `json:"answer"`
	Followups []json.RawMessage `json:"followup_questions"`
}

func (f *HTTPAnswerFetcher) Fetch(ctx context.Context, req chatout.FetchRequest) (chatout.FetchResult, error) {
	base, endpoint := f.backend.BaseURL, f.backend.Endpoint
	if req.DeepThink {
		base, endpoint = f.backend.DeepThinkURL, f.backend.DeepThinkEndpoint
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return chatout.FetchResult{}, apperrors.ErrBackendNotConfigured
	}
	target := base + endpoint + "?" + url.Values{"question": {req.Question}}.Encode()

	if f.backend.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.backend.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return chatout.FetchResult{}, fmt.Errorf("%w: build request: %w", apperrors.ErrFetch, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return chatout.FetchResult{}, ctxErr
		}
		return chatout.FetchResult{}, fmt.Errorf("%w: %w", apperrors.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxAnswerBytes))
		return chatout.FetchResult{}, fmt.Errorf("%w: server error: %d", apperrors.ErrFetch, resp.StatusCode)
	}

	var payload answerPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAnswerBytes)).Decode(&payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return chatout.FetchResult{}, ctxErr
		}
		return chatout.FetchResult{}, fmt.Errorf("%w: decode answer: %w", apperrors.ErrFetch, err)
	}
	return chatout.FetchResult{Answer: payload.Answer, Followups: decodeFollowups(payload.Followups)}, nil
}

// decodeFollowups accepts plain strings and objects carrying a question
// field; anything else is skipped.
func decodeFollowups(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			if text = strings.TrimSpace(text); text != "" {
				out = append(out, text)
			}
			continue
		}
		var obj struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal(item, &obj); err == nil {
			if q := strings.TrimSpace(obj.Question); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}
