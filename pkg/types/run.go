package types

import "fmt"

// VoiceState is the lifecycle state of one model participant.
type VoiceState string

// Voice states. Skipped is structural: a skipped voice never takes part in
// bulk transitions.
const (
	VoicePending   VoiceState = "pending"
	VoiceRunning   VoiceState = "running"
	VoiceCompleted VoiceState = "completed"
	VoiceFailed    VoiceState = "failed"
	VoiceCancelled VoiceState = "cancelled"
	VoiceSkipped   VoiceState = "skipped"
)

// Terminal reports whether the state is resolved and must not be altered
// by a bulk level transition.
func (s VoiceState) Terminal() bool {
	switch s {
	case VoiceCompleted, VoiceFailed, VoiceCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known voice states.
func (s VoiceState) Valid() bool {
	switch s {
	case VoicePending, VoiceRunning, VoiceCompleted, VoiceFailed, VoiceCancelled, VoiceSkipped:
		return true
	}
	return false
}

// ConsolidationLevel is the pseudo-level for the synthesis/orchestration step.
const ConsolidationLevel = 4

// Voice is one model participant within an analysis level.
type Voice struct {
	ID       string     `json:"id"`
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Level    int        `json:"level"` // 1..3
	State    VoiceState `json:"state"`
}

// VoiceKey derives the stable voice identifier from provider, model, and
// ordinal. The ordinal disambiguates repeated provider/model pairs within
// one level; client and server must agree on this derivation.
func VoiceKey(provider, model string, ordinal int) string {
	return fmt.Sprintf("%s/%s/%d", provider, model, ordinal)
}

// Run is the metadata record for one analysis job.
type Run struct {
	ID       string        `json:"id"`
	ReviewID string        `json:"reviewID"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Status   string        `json:"status"`
	Summary  string        `json:"summary,omitempty"`
	Levels   []LevelConfig `json:"levels"`
	Time     RunTime       `json:"time"`
}

// RunTime contains timestamps for a run.
type RunTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// LevelConfig describes the voices configured for one level of a run.
type LevelConfig struct {
	Level  int           `json:"level"`
	Voices []VoiceConfig `json:"voices"`
}

// VoiceConfig is one configured participant before any state is known.
type VoiceConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
