package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event emitted by the cache core.
// Required fields: Timestamp, RunID, AgentSystem, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp   time.Time       `json:"ts"`
	RunID       string          `json:"run_id"`
	AgentSystem string          `json:"agent_system"`
	EventType   string          `json:"event_type"`
	Summary     string          `json:"summary"`
	Plugin      string          `json:"plugin,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTierHit        = "tier_hit"
	EventTierMiss       = "tier_miss"
	EventTierAdd        = "tier_add"
	EventTierDelete     = "tier_delete"
	EventTierEviction   = "tier_eviction"
	EventTierWriteback  = "tier_writeback"
	EventTierPromotion  = "tier_promotion"
	EventDerivation     = "derivation"
	EventURLIssued      = "url_issued"
	EventMakePersistent = "make_persistent"
	EventShutdown       = "shutdown"
)

// TierHitData is the payload for tier_hit events.
type TierHitData struct {
	Tier string `json:"tier"`
	Name string `json:"name"`
}

// TierMissData is the payload for tier_miss events.
type TierMissData struct {
	Tier string `json:"tier"`
	Name string `json:"name"`
}

// TierAddData is the payload for tier_add events.
type TierAddData struct {
	Tier         string `json:"tier"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	PreferRetain bool   `json:"prefer_retain"`
	MustRetain   bool   `json:"must_retain"`
}

// TierDeleteData is the payload for tier_delete events.
type TierDeleteData struct {
	Tier string `json:"tier"`
	Name string `json:"name"`
}

// TierEvictionData is the payload for tier_eviction events.
type TierEvictionData struct {
	Tier   string `json:"tier"`
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// TierWritebackData is the payload for tier_writeback events.
type TierWritebackData struct {
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
	Name     string `json:"name"`
}

// TierPromotionData is the payload for tier_promotion events (a
// remote-cache hit promoted up to the memory tier).
type TierPromotionData struct {
	Name string `json:"name"`
}

// DerivationData is the payload for derivation events, emitted once per
// Derivation Engine call (not once per coalesced caller).
type DerivationData struct {
	Name       string `json:"name"`
	BaseName   string `json:"base_name"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// URLIssuedData is the payload for url_issued events.
type URLIssuedData struct {
	Name            string `json:"name"`
	Method          string `json:"method"`
	LifetimeSeconds int64  `json:"lifetime_seconds"`
}

// MakePersistentData is the payload for make_persistent events.
type MakePersistentData struct {
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// ShutdownData is the payload for shutdown events.
type ShutdownData struct {
	FlushedMemory    int `json:"flushed_memory"`
	FlushedLocalFile int `json:"flushed_local_file"`
}
