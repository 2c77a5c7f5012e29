package consolidate

// RunState represents a stage in the consolidation run lifecycle.
// INIT → BACKUP → PROCESSING → {SUCCESS | PARTIAL | ERROR | NO_FILES} → NOTIFY → DONE
type RunState string

const (
	StateInit       RunState = "INIT"
	StateBackup     RunState = "BACKUP"
	StateProcessing RunState = "PROCESSING"
	StateSuccess    RunState = "SUCCESS"
	StatePartial    RunState = "PARTIAL"
	StateError      RunState = "ERROR"
	StateNoFiles    RunState = "NO_FILES"
	StateNotify     RunState = "NOTIFY"
	StateDone       RunState = "DONE"
)

var validRunStates = map[RunState]bool{
	StateInit:       true,
	StateBackup:     true,
	StateProcessing: true,
	StateSuccess:    true,
	StatePartial:    true,
	StateError:      true,
	StateNoFiles:    true,
	StateNotify:     true,
	StateDone:       true,
}

// outcomeStates are the final-status states every run funnels through NOTIFY from
var outcomeStates = map[RunState]bool{
	StateSuccess: true,
	StatePartial: true,
	StateError:   true,
	StateNoFiles: true,
}

// IsValid returns true if the state is a known run state
func (s RunState) IsValid() bool {
	return validRunStates[s]
}

// IsOutcome returns true if the state is one of the four final run statuses
func (s RunState) IsOutcome() bool {
	return outcomeStates[s]
}

// String returns the string representation of the state
func (s RunState) String() string {
	return string(s)
}

// DeriveStatus computes the final run status from the file error tally:
// no errors SUCCESS, some-but-not-all PARTIAL, all ERROR.
func DeriveStatus(totalFiles, failedFiles int) RunState {
	switch {
	case totalFiles == 0:
		return StateNoFiles
	case failedFiles == 0:
		return StateSuccess
	case failedFiles < totalFiles:
		return StatePartial
	default:
		return StateError
	}
}
