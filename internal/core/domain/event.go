package domain

// EventType tells a roll forward from a roll backward.
type EventType string

const (
	EventRollForward  EventType = "roll_forward"
	EventRollBackward EventType = "roll_backward"
)

// ChainSyncEvent is one step of the chain-sync protocol.
//
// RollForward carries Block. A top-level RollBackward carries only Point, the
// rollback target. A per-block undo event is a RollBackward carrying both the
// block being undone and, as Point, the predecessor of that block.
//
// RequestNext asks the producer for the following event and must be called
// once per event.
type ChainSyncEvent struct {
	Type        EventType
	Block       *Block
	Point       ChainPoint
	RequestNext func()
}

// IsUndo reports whether the event undoes a single block.
func (e ChainSyncEvent) IsUndo() bool {
	return e.Type == EventRollBackward && e.Block != nil
}

// NoopRequestNext is attached to events that have no producer behind them.
func NoopRequestNext() {}
