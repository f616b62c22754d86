package tracker

// SyncState 同步状态，只由 Tracker 修改
type SyncState int

const (
	Waiting SyncState = iota
	Playing
	Paused
	Seeking
	Stopped
)

func (s SyncState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
