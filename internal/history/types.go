// Package history archives protocol messages per run in a bounded,
// evicted map persisted through the kvstore capability.
package history

import (
	"time"

	"relay/cli/internal/protocol"
)

// StoredMessage is a protocol message extended with archival fields.
// GroupID and friends support UI-side folding of rapid progress bursts.
type StoredMessage struct {
	protocol.Message
	RunID           string `json:"runId,omitempty"`
	GroupID         string `json:"groupId,omitempty"`
	GroupPosition   int    `json:"groupPosition,omitempty"`
	IsGroupComplete bool   `json:"isGroupComplete,omitempty"`
}

// ActiveGroup is the in-flight folding state for the run currently
// being archived. It is persisted so an interrupted streaming burst
// resumes as the same logical group.
type ActiveGroup struct {
	ID         string          `json:"id"`
	StartTime  time.Time       `json:"startTime"`
	Messages   []StoredMessage `json:"messages"`
	IsComplete bool            `json:"isComplete"`
}

// RunHistory is one tracked run's archive row.
type RunHistory struct {
	Messages         []StoredMessage `json:"messages"`
	LastUpdated      time.Time       `json:"lastUpdated"`
	Title            string          `json:"title,omitempty"`
	AgentName        string          `json:"agentName,omitempty"`
	TaskDescription  string          `json:"taskDescription,omitempty"`
	FirstMessageTime time.Time       `json:"firstMessageTime"`
	ActiveGroup      *ActiveGroup    `json:"activeGroup,omitempty"`
}

// RunSummary is the listing shape returned by GetHistoryList.
type RunSummary struct {
	RunID        string    `json:"runId"`
	Title        string    `json:"title,omitempty"`
	AgentName    string    `json:"agentName,omitempty"`
	MessageCount int       `json:"messageCount"`
	FirstMessage time.Time `json:"firstMessageTime"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// StorageStats summarizes the archive for diagnostics.
type StorageStats struct {
	RunCount      int       `json:"runCount"`
	MessageCount  int       `json:"messageCount"`
	OldestMessage time.Time `json:"oldestMessage"`
	NewestMessage time.Time `json:"newestMessage"`
}
