package progress

import "github.com/in-the-loop-labs/pair-review/pkg/types"

// DeriveState computes the aggregate state of an ordinary level from its
// voice states. Precedence, first match wins:
//
//	all completed            -> completed
//	all cancelled            -> cancelled
//	any failed, none running -> failed
//	any running              -> running
//	otherwise                -> pending
//
// A failure among otherwise-active work keeps the level running; failed
// only wins once nothing is still in flight.
func DeriveState(states []types.VoiceState) types.VoiceState {
	if len(states) == 0 {
		return types.VoicePending
	}

	allCompleted := true
	allCancelled := true
	anyFailed := false
	anyRunning := false

	for _, s := range states {
		if s != types.VoiceCompleted {
			allCompleted = false
		}
		if s != types.VoiceCancelled {
			allCancelled = false
		}
		if s == types.VoiceFailed {
			anyFailed = true
		}
		if s == types.VoiceRunning {
			anyRunning = true
		}
	}

	switch {
	case allCompleted:
		return types.VoiceCompleted
	case allCancelled:
		return types.VoiceCancelled
	case anyFailed && !anyRunning:
		return types.VoiceFailed
	case anyRunning:
		return types.VoiceRunning
	default:
		return types.VoicePending
	}
}

// DeriveConsolidationState computes the aggregate state of the
// consolidation step from its child steps. Same shape as DeriveState,
// except failed takes unconditional precedence over running: the synthesis
// step surfaces failure as soon as any child fails.
func DeriveConsolidationState(states []types.VoiceState) types.VoiceState {
	if len(states) == 0 {
		return types.VoicePending
	}

	allCompleted := true
	allCancelled := true
	anyFailed := false
	anyRunning := false

	for _, s := range states {
		if s != types.VoiceCompleted {
			allCompleted = false
		}
		if s != types.VoiceCancelled {
			allCancelled = false
		}
		if s == types.VoiceFailed {
			anyFailed = true
		}
		if s == types.VoiceRunning {
			anyRunning = true
		}
	}

	switch {
	case allCompleted:
		return types.VoiceCompleted
	case allCancelled:
		return types.VoiceCancelled
	case anyFailed:
		return types.VoiceFailed
	case anyRunning:
		return types.VoiceRunning
	default:
		return types.VoicePending
	}
}
