package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_GoldenFull(t *testing.T) {
	event := &Event{
		Timestamp:   time.Date(2026, 2, 23, 14, 30, 0, 123000000, time.UTC),
		RunID:       "session-9f8e7d6c",
		AgentSystem: "imagerepod",
		EventType:   EventTierAdd,
		Summary:     "photo+size(200,200).jpg added to memory",
		Plugin:      "cachetier",
		Tags:        []string{"memory", "add"},
		Data:        json.RawMessage(`{"tier":"memory","name":"photo+size(200,200).jpg","size":40960,"prefer_retain":false,"must_retain":false}`),
	}

	got, err := json.Marshal(event)
	require.NoError(t, err)

	goldenPath := filepath.Join("testdata", "event_full.golden")
	if os.Getenv("UPDATE_GOLDEN") != "" {
		os.MkdirAll("testdata", 0755)
		os.WriteFile(goldenPath, append(got, '\n'), 0644)
		t.Skip("golden file updated")
	}

	expected, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "golden file missing; run with UPDATE_GOLDEN=1 to create")

	assert.JSONEq(t, string(expected), string(got))
}

func TestEvent_GoldenMinimal(t *testing.T) {
	event := &Event{
		Timestamp:   time.Date(2026, 2, 23, 14, 30, 0, 0, time.UTC),
		RunID:       "vm-a1b2c3d4",
		AgentSystem: "unknown",
		EventType:   EventTierMiss,
		Summary:     "photo+size(400,400).jpg not found in memory",
	}

	got, err := json.Marshal(event)
	require.NoError(t, err)

	goldenPath := filepath.Join("testdata", "event_minimal.golden")
	if os.Getenv("UPDATE_GOLDEN") != "" {
		os.MkdirAll("testdata", 0755)
		os.WriteFile(goldenPath, append(got, '\n'), 0644)
		t.Skip("golden file updated")
	}

	expected, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "golden file missing; run with UPDATE_GOLDEN=1 to create")

	assert.JSONEq(t, string(expected), string(got))
}
