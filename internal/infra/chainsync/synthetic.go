package chainsync

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/vietddude/projector/internal/core/domain"
)

// SyntheticConfig controls the generated chain.
type SyntheticConfig struct {
	Interval      time.Duration // pause between events, 0 = none
	RollbackEvery int           // roll back after this many forward blocks, 0 = never
	RollbackDepth int           // blocks undone per rollback
	PayloadSize   int           // bytes per block payload
	Seed          string
}

// Synthetic generates a deterministic chain with periodic rollbacks. No
// external calls are made.
type Synthetic struct {
	cfg   SyntheticConfig
	gate  gate
	chain []domain.Block // applied blocks, oldest first, bounded by RollbackDepth+1
	slot  uint64
	fork  uint64
	since int // forward blocks since the last rollback
	log   *slog.Logger
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.RollbackDepth < 0 {
		cfg.RollbackDepth = 0
	}
	if cfg.PayloadSize < 0 {
		cfg.PayloadSize = 0
	}
	return &Synthetic{
		cfg: cfg,
		log: slog.Default().With("component", "synthetic_source"),
	}
}

// Next implements Source.
func (s *Synthetic) Next(ctx context.Context) (domain.ChainSyncEvent, error) {
	if err := s.gate.wait(ctx); err != nil {
		return domain.ChainSyncEvent{}, err
	}
	if s.cfg.Interval > 0 {
		t := time.NewTimer(s.cfg.Interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return domain.ChainSyncEvent{}, ctx.Err()
		}
	}

	if s.dueRollback() {
		return s.rollBackward(), nil
	}
	return s.rollForward(), nil
}

func (s *Synthetic) dueRollback() bool {
	return s.cfg.RollbackEvery > 0 &&
		s.cfg.RollbackDepth > 0 &&
		s.since >= s.cfg.RollbackEvery &&
		len(s.chain) > s.cfg.RollbackDepth
}

func (s *Synthetic) rollForward() domain.ChainSyncEvent {
	s.slot++
	prev := ""
	var height uint64 = 1
	if n := len(s.chain); n > 0 {
		prev = s.chain[n-1].Header.Hash
		height = s.chain[n-1].Header.Height + 1
	}

	b := domain.Block{
		Header: domain.BlockHeader{
			Hash:     s.hash(prev, s.slot),
			Slot:     s.slot,
			Height:   height,
			PrevHash: prev,
		},
		Payload: s.payload(s.slot),
	}
	s.chain = append(s.chain, b)
	if keep := s.cfg.RollbackDepth + 1; len(s.chain) > keep {
		s.chain = append(s.chain[:0], s.chain[len(s.chain)-keep:]...)
	}
	s.since++

	return domain.ChainSyncEvent{
		Type:        domain.EventRollForward,
		Block:       &b,
		RequestNext: s.gate.issue(),
	}
}

func (s *Synthetic) rollBackward() domain.ChainSyncEvent {
	keep := len(s.chain) - s.cfg.RollbackDepth
	s.chain = s.chain[:keep]
	target := s.chain[keep-1].Point()
	s.since = 0
	s.fork++

	s.log.Debug("Rolling back", "target", target.String(), "depth", s.cfg.RollbackDepth)
	return domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       target,
		RequestNext: s.gate.issue(),
	}
}

// hash derives a block hash from the previous hash, the slot and the fork
// counter so that re-produced slots get new hashes.
func (s *Synthetic) hash(prev string, slot uint64) string {
	h := sha256.New()
	h.Write([]byte(s.cfg.Seed))
	h.Write([]byte(prev))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], slot)
	binary.BigEndian.PutUint64(buf[8:], s.fork)
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Synthetic) payload(slot uint64) []byte {
	if s.cfg.PayloadSize == 0 {
		return nil
	}
	out := make([]byte, 0, s.cfg.PayloadSize)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], slot)
	block := sha256.Sum256(buf[:])
	for len(out) < s.cfg.PayloadSize {
		out = append(out, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return out[:s.cfg.PayloadSize]
}
