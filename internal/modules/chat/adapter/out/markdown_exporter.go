package out

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medq/internal/modules/chat/domain"
	chatout "medq/internal/modules/chat/port/out"
	"medq/internal/platform/markdown"
	"medq/internal/platform/slug"
)

var transcriptBlock = markdown.Block{
	Start: "<!-- medq:transcript:start -->",
	End:   "<!-- medq:transcript:end -->",
}

// MarkdownTranscriptExporter writes one note per session. Re-exporting a
// session rewrites only the transcript block of its note.
type MarkdownTranscriptExporter struct {
	dataDir string
}

func NewMarkdownTranscriptExporter(dataDir string) chatout.TranscriptExporter {
	return &MarkdownTranscriptExporter{dataDir: dataDir}
}

func (e *MarkdownTranscriptExporter) Export(_ context.Context, session domain.Session) (string, error) {
	date := session.CreatedAt.UTC()
	dir := filepath.Join(e.dataDir, "transcripts", date.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}

	base := slug.Make(session.Title())
	path := filepath.Join(dir, base+".md")
	body, err := existingBody(path, session.ID)
	if errors.Is(err, errOtherSession) {
		path = filepath.Join(dir, base+"-"+shortID(session.ID)+".md")
		body, err = existingBody(path, session.ID)
	}
	if err != nil {
		return "", err
	}
	if body == "" {
		body = fmt.Sprintf("# %s\n\n", session.Title())
	}

	meta := map[string]any{
		"schema_version": domain.SchemaVersion,
		"id":             session.ID,
		"headline":       session.Title(),
		"created_at":     date.Format(time.RFC3339),
		"questions":      len(session.QAHistory),
	}
	rendered, err := markdown.RenderFrontmatter(meta, transcriptBlock.Replace(body, renderTranscript(session)))
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(rendered)); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

var errOtherSession = errors.New("note belongs to another session")

// existingBody returns the body of a previous export of the same session,
// or "" when there is none.
func existingBody(path, sessionID string) (string, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	meta, body, err := markdown.SplitFrontmatter(string(content))
	if err != nil {
		return "", err
	}
	if id, _ := meta["id"].(string); id != sessionID {
		return "", errOtherSession
	}
	return body, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func renderTranscript(session domain.Session) string {
	if len(session.QAHistory) == 0 {
		return "_No questions yet._"
	}
	var b strings.Builder
	for i, entry := range session.QAHistory {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", entry.Question)
		if entry.DeepThink {
			b.WriteString("_DeepThink_\n\n")
		}
		switch entry.Answer.Status {
		case domain.AnswerText:
			b.WriteString(strings.TrimSpace(entry.Answer.Text))
		case domain.AnswerError:
			fmt.Fprintf(&b, "> **Error:** %s", entry.Answer.Text)
		default:
			b.WriteString("> _Waiting for an answer._")
		}
		if len(entry.Followups) > 0 {
			b.WriteString("\n\nFollow-up questions:\n")
			for _, q := range entry.Followups {
				fmt.Fprintf(&b, "\n- %s", q)
			}
		}
	}
	return b.String()
}
