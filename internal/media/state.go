package media

// State is the lifecycle phase shared by players and recorders.
//
// States form a total order and rank comparisons are meaningful:
//
//	Destroyed < Error < Idle < Preparing < Prepared < Buffering < Seeking < Playing (= Recording) < Paused
//
// Callers should prefer the capability predicates (CanPlay, CanStop, ...)
// over comparing ranks directly.
type State int

const (
	StateDestroyed State = iota - 2
	StateError
	StateIdle
	StatePreparing
	StatePrepared
	StateBuffering
	StateSeeking
	StatePlaying
	StatePaused
)

// StateRecording shares its rank with StatePlaying. A recorder and a player
// never compare states with each other.
const StateRecording = StatePlaying

func (s State) String() string {
	switch s {
	case StateDestroyed:
		return "destroyed"
	case StateError:
		return "error"
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateBuffering:
		return "buffering"
	case StateSeeking:
		return "seeking"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateDestroyed && s <= StatePaused
}

// CanPlay reports whether a player in this state has a prepared source.
func (s State) CanPlay() bool { return s >= StatePrepared }

// CanRecord mirrors CanPlay for recorders.
func (s State) CanRecord() bool { return s >= StatePrepared }

// CanStop reports whether there is an active playback or recording to stop.
func (s State) CanStop() bool { return s >= StatePlaying }

// CanPrepare reports whether prepare would start from a clean slate.
func (s State) CanPrepare() bool { return s == StateIdle }

func (s State) IsPlaying() bool   { return s == StatePlaying }
func (s State) IsRecording() bool { return s == StateRecording }
func (s State) IsPaused() bool    { return s == StatePaused }
func (s State) IsPrepared() bool  { return s == StatePrepared }

// IsStopped reports whether nothing is playing, including before prepare.
func (s State) IsStopped() bool { return s <= StatePrepared }
