package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/projector/internal/core/domain"
)

// BlockRepo stores projected blocks.
type BlockRepo struct {
	db *DB
}

// NewBlockRepo creates a new PostgreSQL block repository.
func NewBlockRepo(db *DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// SaveBlock inserts a block. Re-applying a known block is a no-op.
func (r *BlockRepo) SaveBlock(ctx context.Context, b domain.Block) error {
	query := `
		INSERT INTO blocks (hash, slot, height, prev_hash, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		b.Header.Hash,
		int64(b.Header.Slot),
		int64(b.Header.Height),
		b.Header.PrevHash,
		b.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

// DeleteBlock removes a block and, by cascade, everything derived from it.
func (r *BlockRepo) DeleteBlock(ctx context.Context, hash string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM blocks WHERE hash = $1`, hash); err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	return nil
}

type blockRow struct {
	Hash     string `db:"hash"`
	Slot     int64  `db:"slot"`
	Height   int64  `db:"height"`
	PrevHash string `db:"prev_hash"`
	Payload  []byte `db:"payload"`
}

func (b *blockRow) toDomain() *domain.Block {
	return &domain.Block{
		Header: domain.BlockHeader{
			Hash:     b.Hash,
			Slot:     uint64(b.Slot),
			Height:   uint64(b.Height),
			PrevHash: b.PrevHash,
		},
		Payload: b.Payload,
	}
}

// GetByHash retrieves a block by hash. It returns nil when not found.
func (r *BlockRepo) GetByHash(ctx context.Context, hash string) (*domain.Block, error) {
	query := `SELECT hash, slot, height, prev_hash, payload FROM blocks WHERE hash = $1`

	var row blockRow
	err := r.db.X.GetContext(ctx, &row, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return row.toDomain(), nil
}
