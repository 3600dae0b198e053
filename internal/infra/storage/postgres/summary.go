package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/projector/internal/core/domain"
)

// BlockSummaryQueue is the queue summarizing newly projected blocks.
const BlockSummaryQueue = "block-summary"

// SummaryPayload is the job payload of BlockSummaryQueue.
type SummaryPayload struct {
	Hash string `json:"hash"`
	Slot uint64 `json:"slot"`
}

// SummaryHandler writes one block_summaries row per projected block.
type SummaryHandler struct {
	blocks *BlockRepo
	db     *DB
	log    *slog.Logger
}

// NewSummaryHandler creates a handler for BlockSummaryQueue.
func NewSummaryHandler(db *DB) *SummaryHandler {
	return &SummaryHandler{
		blocks: NewBlockRepo(db),
		db:     db,
		log:    slog.Default().With("component", "summary_handler"),
	}
}

// Handle implements domain.JobHandler.
func (h *SummaryHandler) Handle(ctx context.Context, job *domain.JobRecord) error {
	var p SummaryPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("invalid summary payload: %w", err)
	}
	if p.Hash == "" {
		return errors.New("invalid summary payload: missing hash")
	}

	block, err := h.blocks.GetByHash(ctx, p.Hash)
	if err != nil {
		return err
	}
	if block == nil {
		h.log.Debug("Block rolled back before summary", "hash", p.Hash, "slot", p.Slot)
		return nil
	}

	digest := sha256.Sum256(block.Payload)
	query := `
		INSERT INTO block_summaries (block_hash, slot, payload_bytes, payload_digest)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (block_hash) DO UPDATE SET
			payload_bytes = EXCLUDED.payload_bytes,
			payload_digest = EXCLUDED.payload_digest,
			summarized_at = NOW()
	`
	_, err = h.db.Pool.Exec(ctx, query,
		block.Header.Hash,
		int64(block.Header.Slot),
		len(block.Payload),
		hex.EncodeToString(digest[:]),
	)

	// foreign_key_violation: the block was deleted after the lookup
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		h.log.Debug("Block rolled back during summary", "hash", p.Hash)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}
