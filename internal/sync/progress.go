package sync

// Progress phases, in the order a sync emits them.
const (
	PhaseConnecting = "connecting"
	PhaseListing    = "listing"
	PhaseSyncing    = "syncing"
	PhaseDone       = "done"
)

// Progress is one observation of a running sync.
type Progress struct {
	Phase        string `json:"phase"`
	Folder       string `json:"folder,omitempty"`
	FoldersTotal int    `json:"folders_total,omitempty"`
	FoldersDone  int    `json:"folders_done,omitempty"`
	Added        int    `json:"added,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Sink receives progress events. Emit must not block the sync.
type Sink interface {
	Emit(Progress)
}

// BoundedSink buffers progress events in a fixed-size channel. When a slow
// consumer falls behind, the oldest buffered event is dropped so the sync is
// never stalled by observation.
type BoundedSink struct {
	ch chan Progress
}

// NewBoundedSink creates a sink buffering up to size events.
func NewBoundedSink(size int) *BoundedSink {
	if size < 1 {
		size = 1
	}
	return &BoundedSink{ch: make(chan Progress, size)}
}

// Emit implements Sink. It never blocks: under backpressure it evicts the
// oldest buffered event to make room.
func (b *BoundedSink) Emit(p Progress) {
	for {
		select {
		case b.ch <- p:
			return
		default:
			select {
			case <-b.ch:
			default:
			}
		}
	}
}

// Events exposes the buffered event stream.
func (b *BoundedSink) Events() <-chan Progress {
	return b.ch
}

// Close closes the event stream. Call only after the sync has returned.
func (b *BoundedSink) Close() {
	close(b.ch)
}
