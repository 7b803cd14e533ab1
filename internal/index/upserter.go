// Package index writes embedded chunks into the vector store and keeps
// the index in sync with the chunk set each ingestion run produces.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/internal/store"
	"github.com/docsift/docsift/pkg/models"
)

// Strategy selects how an ingestion run reconciles the index.
type Strategy string

const (
	// StrategySmart upserts the new set and deletes orphans. Needs the
	// backend to enumerate existing ids; degrades to upsert-only when it
	// cannot.
	StrategySmart Strategy = "smart"
	// StrategyClear deletes everything first. Slow, fully correct; used
	// for schema or embedding-model migrations.
	StrategyClear Strategy = "clear"
	// StrategyUpsert writes without deleting. Fast, but orphans
	// accumulate when source files are removed or renamed.
	StrategyUpsert Strategy = "upsert"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySmart, StrategyClear, StrategyUpsert:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown sync strategy %q", s)
}

// Report summarizes one sync run. ListingUnavailable flags that the
// backend could not enumerate existing ids, so Deleted under-reports and
// a clear-and-rebuild is the only guaranteed orphan removal.
type Report struct {
	Upserted           int  `json:"upserted"`
	Deleted            int  `json:"deleted"`
	Unchanged          int  `json:"unchanged"`
	ListingUnavailable bool `json:"listing_unavailable,omitempty"`
}

// Upserter writes batches into a vector store.
type Upserter struct {
	Store     store.VectorStore
	BatchSize int
}

func New(st store.VectorStore, batchSize int) *Upserter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Upserter{Store: st, BatchSize: batchSize}
}

// Sync converges the index to exactly the given chunk set under the
// chosen strategy. Batches run strictly sequentially.
func (u *Upserter) Sync(ctx context.Context, chunks []models.EmbeddedChunk, strategy Strategy) (Report, error) {
	switch strategy {
	case StrategyClear:
		if err := u.Store.DeleteAll(ctx); err != nil {
			return Report{}, fmt.Errorf("clear index: %w", err)
		}
		if err := u.upsertAll(ctx, chunks); err != nil {
			return Report{}, err
		}
		return Report{Upserted: len(chunks)}, nil

	case StrategyUpsert:
		if err := u.upsertAll(ctx, chunks); err != nil {
			return Report{}, err
		}
		return Report{Upserted: len(chunks)}, nil

	case StrategySmart:
		return u.smartUpdate(ctx, chunks)

	default:
		return Report{}, fmt.Errorf("unknown sync strategy %q", strategy)
	}
}

// smartUpdate diffs the just-produced id set against the index: ids
// present in the index but absent from the new set are orphans and get
// deleted; everything new is upserted (overwriting unchanged entries is
// fine, upsert is idempotent). Deterministic chunk ids are what make
// this diff meaningful.
func (u *Upserter) smartUpdate(ctx context.Context, chunks []models.EmbeddedChunk) (Report, error) {
	newSet := make(map[string]bool, len(chunks))
	for _, ec := range chunks {
		newSet[ec.Chunk.ID] = true
	}

	existing, err := u.Store.ListIDs(ctx)
	if err != nil {
		if errors.Is(err, store.ErrUnsupported) {
			log.Warn().Msg("store cannot enumerate ids; smart update degrades to upsert-only, orphans are not removed")
			if err := u.upsertAll(ctx, chunks); err != nil {
				return Report{}, err
			}
			return Report{Upserted: len(chunks), ListingUnavailable: true}, nil
		}
		return Report{}, fmt.Errorf("list existing ids: %w", err)
	}

	var orphans []string
	for _, id := range existing {
		if !newSet[id] {
			orphans = append(orphans, id)
		}
	}

	for start := 0; start < len(orphans); start += u.BatchSize {
		end := min(start+u.BatchSize, len(orphans))
		if err := u.Store.DeleteMany(ctx, orphans[start:end]); err != nil {
			return Report{}, fmt.Errorf("delete orphans: %w", err)
		}
	}

	if err := u.upsertAll(ctx, chunks); err != nil {
		return Report{}, err
	}

	return Report{
		Upserted:  len(chunks),
		Deleted:   len(orphans),
		Unchanged: len(existing) - len(orphans),
	}, nil
}

func (u *Upserter) upsertAll(ctx context.Context, chunks []models.EmbeddedChunk) error {
	for start, batchNum := 0, 0; start < len(chunks); start, batchNum = start+u.BatchSize, batchNum+1 {
		end := min(start+u.BatchSize, len(chunks))
		if err := u.Store.Upsert(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("upsert batch %d: %w", batchNum, err)
		}
		log.Debug().Int("batch", batchNum).Int("chunks", end-start).Msg("upserted batch")
	}
	return nil
}
