package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldql/worldql-go/internal/metrics"
	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/store"
)

// sanitizeRecords rewrites each record's WorldName to its sanitized form
// (spec §6) in place, so every write path stores the same substituted
// name the subscription index looks names up by.
func sanitizeRecords(records []store.Record) error {
	for i, rec := range records {
		world, err := protocol.SanitizeWorldName(rec.WorldName)
		if err != nil {
			return err
		}
		records[i].WorldName = world
	}
	return nil
}

func sanitizePartialRecords(records []store.PartialRecord) error {
	for i, rec := range records {
		world, err := protocol.SanitizeWorldName(rec.WorldName)
		if err != nil {
			return err
		}
		records[i].WorldName = world
	}
	return nil
}

// DatabaseLane is the single task that owns the record store handle
// exclusively (spec §4.4/§4.5). Requests are processed one at a time; the
// store calls within a single request may be concurrent to each other but
// the lane itself never interleaves two requests.
type DatabaseLane struct {
	registry *registry.Registry
	store    store.Store
	cubeSize int64
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewDatabaseLane builds a lane over st. cubeSize is used to resolve a
// single-position RecordClear into the box its cell occupies. met may be
// nil, which disables reporting.
func NewDatabaseLane(reg *registry.Registry, st store.Store, cubeSize int64, logger zerolog.Logger, met *metrics.Metrics) *DatabaseLane {
	return &DatabaseLane{registry: reg, store: st, cubeSize: cubeSize, logger: logger, metrics: met}
}

// Run processes jobs sequentially until jobs closes or ctx is cancelled.
func (l *DatabaseLane) Run(ctx context.Context, jobs <-chan Job) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			l.handle(ctx, job)
		}
	}
}

func (l *DatabaseLane) handle(ctx context.Context, job Job) {
	switch req := job.Request.(type) {
	case protocol.RecordGetRequest:
		l.handleGet(ctx, job.Sender, req)
	case protocol.RecordSetRequest:
		l.handleSet(ctx, job.Sender, req)
	case protocol.RecordDeleteRequest:
		l.handleDelete(ctx, job.Sender, req)
	case protocol.RecordClearRequest:
		l.handleClear(ctx, job.Sender, req)
	}
}

func (l *DatabaseLane) handleGet(ctx context.Context, sender uuid.UUID, req protocol.RecordGetRequest) {
	var records []store.Record
	var err error
	if req.ByArea != nil {
		world, serr := protocol.SanitizeWorldName(req.ByArea.World)
		if serr != nil {
			replyValidationError[protocol.RecordGetReply](l.registry, l.logger, sender, "record_get_reply", serr)
			return
		}
		records, err = l.store.GetByArea(ctx, world, req.ByArea.Pos1, req.ByArea.Pos2)
	} else {
		if serr := sanitizePartialRecords(req.ByUUID); serr != nil {
			replyValidationError[protocol.RecordGetReply](l.registry, l.logger, sender, "record_get_reply", serr)
			return
		}
		records, err = l.store.GetByID(ctx, req.ByUUID)
	}
	if err != nil {
		replyError(l.registry, l.logger, l.metrics, sender, "record_get_reply", err)
		return
	}
	sendReply(l.registry, l.logger, sender, "record_get_reply",
		protocol.OkStatus(protocol.RecordGetReply{Records: records}))
}

func (l *DatabaseLane) handleSet(ctx context.Context, sender uuid.UUID, req protocol.RecordSetRequest) {
	if err := sanitizeRecords(req.Records); err != nil {
		replyValidationError[protocol.RecordSetReply](l.registry, l.logger, sender, "record_set_reply", err)
		return
	}
	created, updated, err := l.store.Set(ctx, req.Records)
	if err != nil {
		replyError(l.registry, l.logger, l.metrics, sender, "record_set_reply", err)
		return
	}
	sendReply(l.registry, l.logger, sender, "record_set_reply",
		protocol.OkStatus(protocol.RecordSetReply{Created: created, Updated: updated}))
}

func (l *DatabaseLane) handleDelete(ctx context.Context, sender uuid.UUID, req protocol.RecordDeleteRequest) {
	if err := sanitizePartialRecords(req.Records); err != nil {
		replyValidationError[protocol.RecordDeleteReply](l.registry, l.logger, sender, "record_delete_reply", err)
		return
	}
	affected, err := l.store.Delete(ctx, req.Records)
	if err != nil {
		replyError(l.registry, l.logger, l.metrics, sender, "record_delete_reply", err)
		return
	}
	sendReply(l.registry, l.logger, sender, "record_delete_reply",
		protocol.OkStatus(protocol.RecordDeleteReply{Affected: affected}))
}

// handleClear clears a single cell (when req.Position is set) or an
// entire world.
func (l *DatabaseLane) handleClear(ctx context.Context, sender uuid.UUID, req protocol.RecordClearRequest) {
	world, serr := protocol.SanitizeWorldName(req.World)
	if serr != nil {
		replyValidationError[protocol.RecordClearReply](l.registry, l.logger, sender, "record_clear_reply", serr)
		return
	}

	var affected int
	var err error
	if req.Position != nil {
		area := spatial.AreaClamp(*req.Position, l.cubeSize)
		min, max := area.Bounds(l.cubeSize)
		affected, err = l.store.ClearArea(ctx, world, min, max)
	} else {
		affected, err = l.store.ClearWorld(ctx, world)
	}
	if err != nil {
		replyError(l.registry, l.logger, l.metrics, sender, "record_clear_reply", err)
		return
	}
	sendReply(l.registry, l.logger, sender, "record_clear_reply",
		protocol.OkStatus(protocol.RecordClearReply{Affected: affected}))
}
