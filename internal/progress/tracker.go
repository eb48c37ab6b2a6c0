// Package progress maintains the voice/level/consolidation model for one
// analysis run and derives level and job outcomes from per-participant
// events.
package progress

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/in-the-loop-labs/pair-review/internal/logging"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// DismissDelay is how long a finished run's card stays up before the
// auto-dismiss hook fires.
const DismissDelay = 5 * time.Second

// Consolidation step identifiers. One intra-level step per configured
// level plus a single cross-level orchestration step.
const CrossLevelStep = "cross"

// Hooks are the one-shot side effects fired when the run reaches a
// terminal outcome. Any of them may be nil.
type Hooks struct {
	// OnTerminal receives the final outcome; callers use it to stop
	// streaming and polling.
	OnTerminal func(outcome types.VoiceState)
	// OnRefreshSuggestions fires after a completed run so dependent
	// suggestion lists reload.
	OnRefreshSuggestions func()
	// OnDismiss fires DismissDelay after the terminal transition.
	OnDismiss func()
}

// Tracker holds the progress state for one analysis run. All methods are
// safe for concurrent use; event application never blocks on the UI.
type Tracker struct {
	mu sync.Mutex

	runID  string
	voices map[int][]*types.Voice // levels 1..3, config order
	byID   map[string]*types.Voice

	// Consolidation child steps, keyed by step id.
	steps     map[string]types.VoiceState
	stepOrder []string

	hooks        Hooks
	terminal     bool
	dismissTimer *time.Timer
	dismissDelay time.Duration
}

// NewTracker builds a tracker from a run's level configuration. Voice ids
// are derived from provider, model, and ordinal, matching the server-side
// derivation, so repeated provider/model pairs stay distinct.
func NewTracker(run *types.Run, hooks Hooks) *Tracker {
	t := &Tracker{
		runID:        run.ID,
		voices:       make(map[int][]*types.Voice),
		byID:         make(map[string]*types.Voice),
		steps:        make(map[string]types.VoiceState),
		hooks:        hooks,
		dismissDelay: DismissDelay,
	}

	for _, lvl := range run.Levels {
		if lvl.Level < 1 || lvl.Level > 3 {
			continue
		}
		ordinals := make(map[string]int)
		for _, vc := range lvl.Voices {
			key := vc.Provider + "/" + vc.Model
			id := types.VoiceKey(vc.Provider, vc.Model, ordinals[key])
			ordinals[key]++
			voice := &types.Voice{
				ID:       id,
				Provider: vc.Provider,
				Model:    vc.Model,
				Level:    lvl.Level,
				State:    types.VoicePending,
			}
			t.voices[lvl.Level] = append(t.voices[lvl.Level], voice)
			t.byID[id] = voice
		}
		if len(lvl.Voices) > 0 {
			step := "level-" + strconv.Itoa(lvl.Level)
			t.steps[step] = types.VoicePending
			t.stepOrder = append(t.stepOrder, step)
		}
	}
	t.steps[CrossLevelStep] = types.VoicePending
	t.stepOrder = append(t.stepOrder, CrossLevelStep)

	return t
}

// RunID returns the run this tracker belongs to.
func (t *Tracker) RunID() string {
	return t.runID
}

// Apply folds one stream event into the run state. Events are applied
// synchronously in arrival order.
func (t *Tracker) Apply(evt types.StreamEvent) {
	switch evt.Type {
	case types.EventProgress:
		t.applyProgress(evt)
	case types.EventComplete:
		t.Terminate(terminalOutcome(evt, types.VoiceCompleted))
	case types.EventError:
		t.Terminate(terminalOutcome(evt, types.VoiceFailed))
	}
}

// terminalOutcome prefers the outcome carried on the frame over the
// frame type's default, so a cancelled run arriving as a complete frame
// still resolves as cancelled.
func terminalOutcome(evt types.StreamEvent, fallback types.VoiceState) types.VoiceState {
	if evt.Outcome != "" {
		return types.VoiceState(evt.Outcome)
	}
	return fallback
}

func (t *Tracker) applyProgress(evt types.StreamEvent) {
	t.mu.Lock()
	// Apply levels in numeric order so a frame carrying several level
	// updates lands deterministically.
	keys := make([]string, 0, len(evt.Levels))
	for k := range evt.Levels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		level, err := strconv.Atoi(k)
		if err != nil || level < 1 || level > types.ConsolidationLevel {
			logging.Warn().Str("runID", t.runID).Str("level", k).Msg("progress frame with unknown level key")
			continue
		}
		if level == types.ConsolidationLevel {
			t.applyConsolidationUpdate(evt.Levels[k])
		} else {
			t.applyLevelUpdate(level, evt.Levels[k])
		}
	}
	t.mu.Unlock()

	if evt.Outcome != "" {
		t.Terminate(types.VoiceState(evt.Outcome))
	}
}

// applyLevelUpdate applies one level's portion of a progress frame.
// Precedence: a per-voice map wins outright and never triggers bulk
// semantics; a single voiceId updates one voice; only an update with no
// voice identifier at all is a level-wide bulk directive.
func (t *Tracker) applyLevelUpdate(level int, u types.LevelUpdate) {
	if len(u.Voices) > 0 {
		if u.VoiceID != "" {
			// Unvalidated upstream; map wins but it deserves a trace.
			logging.Warn().Str("runID", t.runID).Int("level", level).
				Msg("progress update carries both voice map and voiceId; map wins")
		}
		for id, state := range u.Voices {
			t.setVoice(level, id, types.VoiceState(state))
		}
		return
	}

	if u.VoiceID != "" {
		t.setVoice(level, u.VoiceID, types.VoiceState(u.Status))
		return
	}

	t.bulkResolve(level, types.VoiceState(u.Status))
}

// setVoice moves one voice to the given state, defaulting to running when
// the event did not carry one.
func (t *Tracker) setVoice(level int, id string, state types.VoiceState) {
	if state == "" {
		state = types.VoiceRunning
	}
	if !state.Valid() {
		logging.Warn().Str("runID", t.runID).Str("voiceID", id).Str("state", string(state)).
			Msg("progress update with unknown voice state")
		return
	}
	voice, ok := t.byID[id]
	if !ok || voice.Level != level {
		logging.Debug().Str("runID", t.runID).Int("level", level).Str("voiceID", id).
			Msg("progress update for unknown voice")
		return
	}
	voice.State = state
}

// bulkResolve applies a level-wide directive. Skipped voices are excluded
// entirely; completed touches only non-terminal voices; failed and
// cancelled touch only non-completed voices.
func (t *Tracker) bulkResolve(level int, state types.VoiceState) {
	switch state {
	case types.VoiceCompleted:
		for _, v := range t.voices[level] {
			if v.State == types.VoiceSkipped || v.State.Terminal() {
				continue
			}
			v.State = types.VoiceCompleted
		}
	case types.VoiceFailed, types.VoiceCancelled:
		for _, v := range t.voices[level] {
			if v.State == types.VoiceSkipped || v.State == types.VoiceCompleted {
				continue
			}
			v.State = state
		}
	case types.VoiceSkipped:
		// Structural; never a bulk transition.
	case types.VoiceRunning, types.VoicePending:
		for _, v := range t.voices[level] {
			if v.State == types.VoiceSkipped || v.State.Terminal() {
				continue
			}
			v.State = state
		}
	default:
		logging.Warn().Str("runID", t.runID).Int("level", level).Str("state", string(state)).
			Msg("bulk level directive with unknown state")
	}
}

// applyConsolidationUpdate applies a level-4 update over the consolidation
// child steps, with the same per-step / bulk precedence as levels.
func (t *Tracker) applyConsolidationUpdate(u types.LevelUpdate) {
	if len(u.Voices) > 0 {
		for id, state := range u.Voices {
			t.setStep(id, types.VoiceState(state))
		}
		return
	}
	if u.VoiceID != "" {
		t.setStep(u.VoiceID, types.VoiceState(u.Status))
		return
	}

	state := types.VoiceState(u.Status)
	switch state {
	case types.VoiceCompleted:
		for id, s := range t.steps {
			if !s.Terminal() {
				t.steps[id] = types.VoiceCompleted
			}
		}
	case types.VoiceFailed, types.VoiceCancelled:
		for id, s := range t.steps {
			if s != types.VoiceCompleted {
				t.steps[id] = state
			}
		}
	}
}

func (t *Tracker) setStep(id string, state types.VoiceState) {
	if state == "" {
		state = types.VoiceRunning
	}
	if _, ok := t.steps[id]; !ok {
		logging.Debug().Str("runID", t.runID).Str("step", id).Msg("progress update for unknown consolidation step")
		return
	}
	t.steps[id] = state
}

// LevelState derives the current state for a level (1..3) or the
// consolidation pseudo-level (4). Level state is never stored; it is
// recomputed from the children on every call. Skipped voices are
// structural and excluded from the derivation.
func (t *Tracker) LevelState(level int) types.VoiceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levelStateLocked(level)
}

func (t *Tracker) levelStateLocked(level int) types.VoiceState {
	if level == types.ConsolidationLevel {
		states := make([]types.VoiceState, 0, len(t.stepOrder))
		for _, id := range t.stepOrder {
			states = append(states, t.steps[id])
		}
		return DeriveConsolidationState(states)
	}

	var states []types.VoiceState
	for _, v := range t.voices[level] {
		if v.State == types.VoiceSkipped {
			continue
		}
		states = append(states, v.State)
	}
	return DeriveState(states)
}

// Voices returns a copy of the voices configured for a level.
func (t *Tracker) Voices(level int) []types.Voice {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Voice, 0, len(t.voices[level]))
	for _, v := range t.voices[level] {
		out = append(out, *v)
	}
	return out
}

// Terminate forces the run into a terminal outcome: every level is
// bulk-resolved so nothing stays visually running, then the one-shot hooks
// fire. Repeated terminal events are ignored.
func (t *Tracker) Terminate(outcome types.VoiceState) {
	switch outcome {
	case types.VoiceCompleted, types.VoiceFailed, types.VoiceCancelled:
	default:
		logging.Warn().Str("runID", t.runID).Str("outcome", string(outcome)).
			Msg("ignoring non-terminal run outcome")
		return
	}

	t.mu.Lock()
	if t.terminal {
		t.mu.Unlock()
		return
	}
	t.terminal = true

	for level := 1; level <= 3; level++ {
		t.bulkResolve(level, outcome)
	}
	t.applyConsolidationUpdate(types.LevelUpdate{Status: string(outcome)})
	hooks := t.hooks
	delay := t.dismissDelay
	t.mu.Unlock()

	if hooks.OnTerminal != nil {
		hooks.OnTerminal(outcome)
	}
	if outcome == types.VoiceCompleted && hooks.OnRefreshSuggestions != nil {
		hooks.OnRefreshSuggestions()
	}
	if hooks.OnDismiss != nil {
		t.mu.Lock()
		t.dismissTimer = time.AfterFunc(delay, hooks.OnDismiss)
		t.mu.Unlock()
	}
}

// Terminal reports whether the run has reached a terminal outcome.
func (t *Tracker) Terminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminal
}

// Close cancels any pending dismiss timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dismissTimer != nil {
		t.dismissTimer.Stop()
		t.dismissTimer = nil
	}
}

// Snapshot captures the derived state of every level for rendering.
func (t *Tracker) Snapshot() map[int]types.VoiceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[int]types.VoiceState, 4)
	for level := 1; level <= 3; level++ {
		if len(t.voices[level]) > 0 {
			out[level] = t.levelStateLocked(level)
		}
	}
	out[types.ConsolidationLevel] = t.levelStateLocked(types.ConsolidationLevel)
	return out
}
