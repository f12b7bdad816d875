package command

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"relay/cli/internal/config"
	"relay/cli/internal/history"
	"relay/cli/internal/protocol"
)

type fakeStore struct {
	list    []history.RunSummary
	msgs    map[string][]history.StoredMessage
	deleted []string
	cleared bool
}

func (f *fakeStore) GetHistoryList() ([]history.RunSummary, error) { return f.list, nil }

func (f *fakeStore) GetMessagesForRun(runID string) ([]history.StoredMessage, error) {
	return f.msgs[runID], nil
}

func (f *fakeStore) DeleteRunHistory(runID string) error {
	f.deleted = append(f.deleted, runID)
	return nil
}

func (f *fakeStore) ClearAllHistory() error {
	f.cleared = true
	return nil
}

func (f *fakeStore) GetStorageStats() (history.StorageStats, error) {
	total := 0
	for _, m := range f.msgs {
		total += len(m)
	}
	return history.StorageStats{RunCount: len(f.list), MessageCount: total}, nil
}

func testDeps(store *fakeStore, out *bytes.Buffer) Deps {
	return Deps{
		Version:    "1.2.3",
		LoadConfig: func() (config.Config, error) { return config.Config{}, nil },
		OpenHistory: func(config.Config) (HistoryStore, func() error, error) {
			return store, nil, nil
		},
		Out: out,
	}
}

func TestServe_RunsWithLoadedConfig(t *testing.T) {
	var got config.Config
	deps := Deps{
		LoadConfig: func() (config.Config, error) {
			return config.Config{ServerURL: "wss://x/ws"}, nil
		},
		RunServe: func(_ context.Context, cfg config.Config) error {
			got = cfg
			return nil
		},
	}

	if err := BuildApp(deps).Run([]string{"relay", "serve"}); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if got.ServerURL != "wss://x/ws" {
		t.Fatalf("config not passed through: %+v", got)
	}
}

func TestServe_MissingRunnerFails(t *testing.T) {
	err := BuildApp(Deps{}).Run([]string{"relay", "serve"})
	if err == nil {
		t.Fatal("serve without a runner should fail")
	}
}

func TestHistoryList(t *testing.T) {
	var out bytes.Buffer
	store := &fakeStore{list: []history.RunSummary{
		{RunID: "42", Title: "Fix the build", MessageCount: 7, LastUpdated: time.Now()},
	}}

	if err := BuildApp(testDeps(store, &out)).Run([]string{"relay", "history", "list"}); err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if !strings.Contains(out.String(), "42") || !strings.Contains(out.String(), "Fix the build") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestHistoryShow(t *testing.T) {
	var out bytes.Buffer
	store := &fakeStore{msgs: map[string][]history.StoredMessage{
		"42": {{Message: protocol.Message{
			Type:      protocol.TypeMessage,
			Direction: protocol.DirectionIncoming,
			Timestamp: time.Now(),
			Content:   "hello there",
		}}},
	}}

	if err := BuildApp(testDeps(store, &out)).Run([]string{"relay", "history", "show", "42"}); err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	if !strings.Contains(out.String(), "hello there") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	if err := BuildApp(testDeps(store, &out)).Run([]string{"relay", "history", "show"}); err == nil {
		t.Fatal("show without a run id should fail")
	}
}

func TestHistoryDeleteAndClear(t *testing.T) {
	var out bytes.Buffer
	store := &fakeStore{}

	if err := BuildApp(testDeps(store, &out)).Run([]string{"relay", "history", "delete", "42"}); err != nil {
		t.Fatalf("history delete failed: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "42" {
		t.Fatalf("delete not forwarded: %v", store.deleted)
	}

	if err := BuildApp(testDeps(store, &out)).Run([]string{"relay", "history", "clear"}); err != nil {
		t.Fatalf("history clear failed: %v", err)
	}
	if !store.cleared {
		t.Fatal("clear not forwarded")
	}
}

func TestHistory_OpenFailure(t *testing.T) {
	deps := Deps{
		LoadConfig: func() (config.Config, error) { return config.Config{}, nil },
		OpenHistory: func(config.Config) (HistoryStore, func() error, error) {
			return nil, nil, errors.New("db locked")
		},
	}
	if err := BuildApp(deps).Run([]string{"relay", "history", "list"}); err == nil {
		t.Fatal("open failure should surface")
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	if err := BuildApp(testDeps(&fakeStore{}, &out)).Run([]string{"relay", "version"}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "1.2.3" {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}
