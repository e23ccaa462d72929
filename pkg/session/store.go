package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fathom-agent/fathom/pkg/utils"
)

// Store locates and persists session files under a directory.
type Store struct {
	dir      string
	debounce time.Duration
}

// NewStore creates a store rooted at dir with the given autosave debounce.
func NewStore(dir string, debounce time.Duration) *Store {
	return &Store{dir: dir, debounce: debounce}
}

// Path returns the session file path for an id.
func (st *Store) Path(sessionID string) string {
	return filepath.Join(st.dir, "session_"+sessionID+".json")
}

// CreateOrLoad opens an existing session or creates an empty one. A file
// that exists but does not decode fails with ErrSessionCorrupt.
func (st *Store) CreateOrLoad(sessionID string) (*Session, error) {
	if err := utils.EnsureDir(st.dir); err != nil {
		return nil, err
	}

	path := st.Path(sessionID)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st.newSession(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %q: %w", sessionID, err)
	}

	var data sessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, path, err)
	}
	if data.SessionID == "" {
		return nil, fmt.Errorf("%w: %s: missing session_id", ErrSessionCorrupt, path)
	}
	st.normalize(&data)

	return &Session{store: st, data: data, lastFlush: time.Now()}, nil
}

func (st *Store) newSession(sessionID string) *Session {
	now := time.Now().UTC()
	return &Session{
		store:     st,
		lastFlush: time.Now(),
		data: sessionData{
			SessionID:      sessionID,
			BatchID:        sessionID,
			CreatedAt:      now,
			UpdatedAt:      now,
			Status:         StatusInitialized,
			PhaseArtifacts: make(map[string]Artifact),
			Scratchpad:     make(map[string]ScratchpadEntry),
		},
	}
}

func (st *Store) normalize(data *sessionData) {
	if data.PhaseArtifacts == nil {
		data.PhaseArtifacts = make(map[string]Artifact)
	}
	if data.Scratchpad == nil {
		data.Scratchpad = make(map[string]ScratchpadEntry)
	}
	if data.BatchID == "" {
		data.BatchID = data.SessionID
	}
}

// write persists atomically: marshal, write temp file, rename into place.
func (st *Store) write(data *sessionData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := st.Path(data.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write session temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Summary is a lightweight listing entry for the admin API.
type Summary struct {
	SessionID string    `json:"session_id"`
	BatchID   string    `json:"batch_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Artifacts int       `json:"artifacts"`
}

// List returns a summary per session file, newest-updated first. Corrupt
// files are listed with an empty status rather than failing the listing.
func (st *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(st.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions dir: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "session_"), ".json")

		raw, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			continue
		}
		var data sessionData
		if err := json.Unmarshal(raw, &data); err != nil {
			out = append(out, Summary{SessionID: id})
			continue
		}
		out = append(out, Summary{
			SessionID: data.SessionID,
			BatchID:   data.BatchID,
			Status:    data.Status,
			CreatedAt: data.CreatedAt,
			UpdatedAt: data.UpdatedAt,
			Artifacts: len(data.PhaseArtifacts),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes a session file. Missing files are not an error.
func (st *Store) Delete(sessionID string) error {
	err := os.Remove(st.Path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
