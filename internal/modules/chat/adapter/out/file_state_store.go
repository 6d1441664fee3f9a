package out

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medq/internal/modules/chat/domain"
	chatout "medq/internal/modules/chat/port/out"
)

const (
	sessionsKey = "chatSessions"
	selectedKey = "selectedSessionId"
)

// FileStateStore keeps the state as two files under the state dir, one per
// persisted key.
type FileStateStore struct {
	dir string
}

func NewFileStateStore(stateDir string) chatout.StateStore {
	return &FileStateStore{dir: stateDir}
}

func (s *FileStateStore) sessionsPath() string { return filepath.Join(s.dir, sessionsKey+".json") }
func (s *FileStateStore) selectedPath() string { return filepath.Join(s.dir, selectedKey) }

func (s *FileStateStore) Load(_ context.Context) (domain.SessionsState, error) {
	state := domain.SessionsState{Sessions: []domain.Session{}}

	payload, err := os.ReadFile(s.sessionsPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return domain.SessionsState{}, fmt.Errorf("read sessions: %w", err)
	default:
		if err := json.Unmarshal(payload, &state.Sessions); err != nil {
			return domain.SessionsState{}, fmt.Errorf("decode sessions: %w", err)
		}
	}

	selected, err := os.ReadFile(s.selectedPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return domain.SessionsState{}, fmt.Errorf("read selected session: %w", err)
	default:
		state.SelectedSessionID = strings.TrimSpace(string(selected))
	}
	if state.Sessions == nil {
		state.Sessions = []domain.Session{}
	}
	return state, nil
}

func (s *FileStateStore) Save(_ context.Context, state domain.SessionsState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	sessions := state.Sessions
	if sessions == nil {
		sessions = []domain.Session{}
	}
	payload, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	if err := writeFileAtomic(s.sessionsPath(), payload); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if state.SelectedSessionID == "" {
		if err := os.Remove(s.selectedPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear selected session: %w", err)
		}
		return nil
	}
	if err := writeFileAtomic(s.selectedPath(), []byte(state.SelectedSessionID)); err != nil {
		return fmt.Errorf("write selected session: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path so readers never observe a partial file.
func writeFileAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
