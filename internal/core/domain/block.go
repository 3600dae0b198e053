package domain

import "fmt"

// ChainPoint identifies a position on the chain. The zero value is Origin.
type ChainPoint struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"hash"`
}

// Origin is the point before the first block.
var Origin = ChainPoint{}

// IsOrigin reports whether p is the Origin sentinel.
func (p ChainPoint) IsOrigin() bool {
	return p.Hash == ""
}

// Compare orders points by slot. Origin sorts before every other point.
func (p ChainPoint) Compare(other ChainPoint) int {
	switch {
	case p.IsOrigin() && other.IsOrigin():
		return 0
	case p.IsOrigin():
		return -1
	case other.IsOrigin():
		return 1
	case p.Slot < other.Slot:
		return -1
	case p.Slot > other.Slot:
		return 1
	default:
		return 0
	}
}

func (p ChainPoint) String() string {
	if p.IsOrigin() {
		return "origin"
	}
	return fmt.Sprintf("%d@%s", p.Slot, shortHash(p.Hash))
}

// BlockHeader holds the identifying fields of a block.
type BlockHeader struct {
	Hash     string `json:"hash"`
	Slot     uint64 `json:"slot"`
	Height   uint64 `json:"height"`
	PrevHash string `json:"prev_hash"`
}

// Block represents an applied block. Blocks are immutable once produced.
type Block struct {
	Header  BlockHeader `json:"header"`
	Payload []byte      `json:"payload,omitempty"`
}

// Point returns the chain point of the block.
func (b Block) Point() ChainPoint {
	return ChainPoint{Slot: b.Header.Slot, Hash: b.Header.Hash}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
