package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"relay/cli/internal/kvstore"
	"relay/cli/internal/protocol"
)

const (
	historyKey = "relay.history"

	maxMessagesPerRun = 1000
	maxTrackedRuns    = 50
	maxRunAge         = 30 * 24 * time.Hour
)

// Store archives messages per run id. Every mutating operation loads
// the whole map from the KV layer, mutates it, and writes it back as a
// unit so concurrent observers never see a partial update.
type Store struct {
	mu     sync.Mutex
	kv     kvstore.KV
	logger *slog.Logger
	now    func() time.Time
}

type Options struct {
	Logger *slog.Logger
	// Now overrides the clock. Tests use it to drive age eviction.
	Now func() time.Time
}

func NewStore(kv kvstore.KV, opts Options) (*Store, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{kv: kv, logger: logger, now: now}, nil
}

// SaveMessage lazily creates the run's row, appends the message,
// enforces the per-run cap, runs global eviction, and flushes. On the
// first start message for a row it extracts a display title and agent
// name from the payload.
func (s *Store) SaveMessage(runID string, msg StoredMessage) error {
	if s == nil {
		return errors.New("history store is not initialized")
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.load()
	row, ok := runs[id]
	if !ok {
		row = &RunHistory{FirstMessageTime: s.now().UTC()}
		runs[id] = row
	}

	if msg.Type == protocol.TypeStart && row.Title == "" {
		s.annotateFromStart(row, msg.Message)
	}

	msg.RunID = id
	row.Messages = append(row.Messages, msg)
	if len(row.Messages) > maxMessagesPerRun {
		row.Messages = row.Messages[len(row.Messages)-maxMessagesPerRun:]
	}
	row.LastUpdated = s.now().UTC()

	s.evict(runs)
	return s.flush(runs)
}

func (s *Store) annotateFromStart(row *RunHistory, msg protocol.Message) {
	var payload protocol.StartPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.logger.Warn("unreadable start payload", "error", err)
		}
	}
	row.AgentName = strings.TrimSpace(payload.AgentID)
	row.TaskDescription = strings.TrimSpace(payload.Task)
	row.Title = ExtractTitle(payload.Task)
}

// GetMessagesForRun returns the run's messages in archival order with
// the run id field stripped, restoring the original event shape.
func (s *Store) GetMessagesForRun(runID string) ([]StoredMessage, error) {
	if s == nil {
		return nil, errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.load()[strings.TrimSpace(runID)]
	if !ok {
		return nil, nil
	}
	out := make([]StoredMessage, len(row.Messages))
	for i, m := range row.Messages {
		m.RunID = ""
		out[i] = m
	}
	return out, nil
}

// GetHistoryList returns a summary per tracked run, most recently
// updated first.
func (s *Store) GetHistoryList() ([]RunSummary, error) {
	if s == nil {
		return nil, errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.load()
	out := make([]RunSummary, 0, len(runs))
	for id, row := range runs {
		out = append(out, RunSummary{
			RunID:        id,
			Title:        row.Title,
			AgentName:    row.AgentName,
			MessageCount: len(row.Messages),
			FirstMessage: row.FirstMessageTime,
			LastUpdated:  row.LastUpdated,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

func (s *Store) SetRunTitle(runID, title string) error {
	if s == nil {
		return errors.New("history store is not initialized")
	}
	t := strings.TrimSpace(title)
	if t == "" {
		return errors.New("title is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.load()
	row, ok := runs[strings.TrimSpace(runID)]
	if !ok {
		return errors.New("run not found")
	}
	row.Title = t
	return s.flush(runs)
}

func (s *Store) DeleteRunHistory(runID string) error {
	if s == nil {
		return errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.load()
	delete(runs, strings.TrimSpace(runID))
	return s.flush(runs)
}

func (s *Store) ClearAllHistory() error {
	if s == nil {
		return errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(map[string]*RunHistory{})
}

func (s *Store) GetStorageStats() (StorageStats, error) {
	if s == nil {
		return StorageStats{}, errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StorageStats{}
	for _, row := range s.load() {
		stats.RunCount++
		stats.MessageCount += len(row.Messages)
		for _, m := range row.Messages {
			if stats.OldestMessage.IsZero() || m.Timestamp.Before(stats.OldestMessage) {
				stats.OldestMessage = m.Timestamp
			}
			if m.Timestamp.After(stats.NewestMessage) {
				stats.NewestMessage = m.Timestamp
			}
		}
	}
	return stats, nil
}

// SaveActiveGroup stores the in-flight folding group on the run's row.
func (s *Store) SaveActiveGroup(runID string, group ActiveGroup) error {
	if s == nil {
		return errors.New("history store is not initialized")
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.load()
	row, ok := runs[id]
	if !ok {
		row = &RunHistory{FirstMessageTime: s.now().UTC(), LastUpdated: s.now().UTC()}
		runs[id] = row
	}
	row.ActiveGroup = &group
	return s.flush(runs)
}

func (s *Store) GetActiveGroup(runID string) (*ActiveGroup, error) {
	if s == nil {
		return nil, errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.load()[strings.TrimSpace(runID)]
	if !ok || row.ActiveGroup == nil {
		return nil, nil
	}
	group := *row.ActiveGroup
	return &group, nil
}

func (s *Store) ClearActiveGroup(runID string) error {
	if s == nil {
		return errors.New("history store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.load()
	row, ok := runs[strings.TrimSpace(runID)]
	if !ok {
		return nil
	}
	row.ActiveGroup = nil
	return s.flush(runs)
}

// evict runs exactly once per save: drop rows older than the age
// threshold, then trim least-recently-updated rows down to the cap.
func (s *Store) evict(runs map[string]*RunHistory) {
	cutoff := s.now().UTC().Add(-maxRunAge)
	for id, row := range runs {
		if row.LastUpdated.Before(cutoff) {
			delete(runs, id)
		}
	}
	if len(runs) <= maxTrackedRuns {
		return
	}
	type entry struct {
		id      string
		updated time.Time
	}
	byAge := make([]entry, 0, len(runs))
	for id, row := range runs {
		byAge = append(byAge, entry{id: id, updated: row.LastUpdated})
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].updated.Before(byAge[j].updated)
	})
	for _, e := range byAge[:len(runs)-maxTrackedRuns] {
		delete(runs, e.id)
	}
}

func (s *Store) load() map[string]*RunHistory {
	raw, ok, err := s.kv.Get(historyKey)
	if err != nil {
		s.logger.Warn("history load failed", "error", err)
		return map[string]*RunHistory{}
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return map[string]*RunHistory{}
	}
	runs := map[string]*RunHistory{}
	if err := json.Unmarshal([]byte(raw), &runs); err != nil {
		s.logger.Warn("history payload is corrupt, starting fresh", "error", err)
		return map[string]*RunHistory{}
	}
	return runs
}

func (s *Store) flush(runs map[string]*RunHistory) error {
	raw, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Update(historyKey, string(raw)); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}
