package deals

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Stage source names.
const (
	StageSourceExplicit = "explicit"
	StageSourcePrimary  = "crm_stages"
	StageSourceLegacy   = "legacy_pipeline_stages"
	StageSourceNone     = "none"
)

// StageSource yields the entry stage for new deals of an origin, or nil when it has none.
type StageSource interface {
	Name() string
	EntryStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error)
}

// StageReader is the storage behind the stage sources.
type StageReader interface {
	StageBelongsToOrigin(ctx context.Context, stageID, originID uuid.UUID) (bool, error)
	FirstStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error)
	FirstLegacyStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error)
}

type primaryStageSource struct{ reader StageReader }

// PrimaryStageSource picks the lowest-position active stage in crm_stages.
func PrimaryStageSource(reader StageReader) StageSource { return primaryStageSource{reader: reader} }

func (primaryStageSource) Name() string { return StageSourcePrimary }

func (s primaryStageSource) EntryStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error) {
	return s.reader.FirstStage(ctx, originID)
}

type legacyStageSource struct{ reader StageReader }

// LegacyStageSource reads the stage table of the previous pipeline model.
func LegacyStageSource(reader StageReader) StageSource { return legacyStageSource{reader: reader} }

func (legacyStageSource) Name() string { return StageSourceLegacy }

func (s legacyStageSource) EntryStage(ctx context.Context, originID uuid.UUID) (*uuid.UUID, error) {
	return s.reader.FirstLegacyStage(ctx, originID)
}

// StageChain tries an explicit stage first, then each source in order.
type StageChain struct {
	reader  StageReader
	sources []StageSource
}

// NewStageChain builds the default chain: primary, then legacy.
func NewStageChain(reader StageReader) *StageChain {
	return &StageChain{
		reader:  reader,
		sources: []StageSource{PrimaryStageSource(reader), LegacyStageSource(reader)},
	}
}

// Resolve returns the stage for a new deal and the source that supplied it.
// An explicit stage outside the origin is ignored. Running out of sources is
// not an error: the deal is created without a stage.
func (c *StageChain) Resolve(ctx context.Context, originID uuid.UUID, explicit *uuid.UUID) (*uuid.UUID, string, error) {
	if explicit != nil {
		ok, err := c.reader.StageBelongsToOrigin(ctx, *explicit, originID)
		if err != nil {
			return nil, "", fmt.Errorf("check explicit stage: %w", err)
		}
		if ok {
			return explicit, StageSourceExplicit, nil
		}
	}

	for _, source := range c.sources {
		stageID, err := source.EntryStage(ctx, originID)
		if err != nil {
			return nil, "", fmt.Errorf("stage source %s: %w", source.Name(), err)
		}
		if stageID != nil {
			return stageID, source.Name(), nil
		}
	}

	return nil, StageSourceNone, nil
}
