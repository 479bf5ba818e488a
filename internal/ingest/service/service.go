// Package service runs one bulk batch through normalize, validate, resolve and upsert.
package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coder/quartz"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/cloudunify/internal/activity"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/smallbiznis/cloudunify/internal/ingest/normalize"
	"github.com/smallbiznis/cloudunify/internal/ingest/repository"
	"github.com/smallbiznis/cloudunify/internal/ingest/resolve"
	"github.com/smallbiznis/cloudunify/internal/ingest/validate"
	obscontext "github.com/smallbiznis/cloudunify/internal/observability/context"
	"github.com/smallbiznis/cloudunify/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cloudunify/internal/observability/metrics"
	"github.com/smallbiznis/cloudunify/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMaxItems  = 5000
	defaultTxTimeout = 30 * time.Second

	SourceAPI = "api"
)

var (
	errDryRun       = errors.New("dry run rollback")
	errNothingSaved = errors.New("no row stored")
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        quartz.Clock
	Config       config.Config
	Rules        *config.IngestRulesHolder
	Validator    *validate.Validator
	Resolver     *resolve.Resolver
	Executor     *repository.Executor
	Publisher    activity.Publisher       `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics      `optional:"true"`
	BatchMetrics *obsmetrics.BatchMetrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock quartz.Clock

	maxItems  int
	txTimeout time.Duration
	rules     *config.IngestRulesHolder

	validator *validate.Validator
	resolver  *resolve.Resolver
	executor  *repository.Executor

	publisher    activity.Publisher
	obsMetrics   *obsmetrics.Metrics
	batchMetrics *obsmetrics.BatchMetrics
	tracer       trace.Tracer
}

func NewService(p ServiceParam) domain.Service {
	maxItems := p.Config.Ingest.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	txTimeout := p.Config.Ingest.TxTimeout
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	clock := p.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	validator := p.Validator
	if validator == nil {
		validator = validate.New()
	}
	batchMetrics := p.BatchMetrics
	if batchMetrics == nil {
		batchMetrics = obsmetrics.Batches()
	}

	return &Service{
		db:           p.DB,
		log:          log.Named("ingest.service"),
		genID:        p.GenID,
		clock:        clock,
		maxItems:     maxItems,
		txTimeout:    txTimeout,
		rules:        p.Rules,
		validator:    validator,
		resolver:     p.Resolver,
		executor:     p.Executor,
		publisher:    p.Publisher,
		obsMetrics:   p.ObsMetrics,
		batchMetrics: batchMetrics,
		tracer:       otel.Tracer("cloudunify/ingest"),
	}
}

// batch is the working state of one Ingest call.
type batch struct {
	id     string
	kind   domain.Kind
	req    domain.BulkRequest
	state  domain.BatchState
	rows   []repository.Row
	errors []domain.RowError
	log    *zap.Logger
}

func (b *batch) transition(state domain.BatchState) {
	b.log.Debug("batch state", zap.String("from", string(b.state)), zap.String("to", string(state)))
	b.state = state
}

func (b *batch) reject(index int, err error) {
	b.errors = append(b.errors, domain.RowError{Index: index, Message: err.Error()})
}

func (s *Service) Ingest(ctx context.Context, req domain.BulkRequest) (domain.BatchResult, error) {
	if !req.Kind.Valid() {
		return domain.BatchResult{}, domain.ErrInvalidKind
	}
	if req.Items == nil {
		return domain.BatchResult{}, domain.ErrInvalidItems
	}
	if len(req.Items) > s.maxItems {
		return domain.BatchResult{}, domain.ErrTooManyItems
	}
	if req.Source == "" {
		req.Source = SourceAPI
	}

	start := s.clock.Now()
	b := &batch{
		id:    s.newBatchID(start),
		kind:  req.Kind,
		req:   req,
		state: domain.StateReceived,
	}
	ctx = obscontext.WithBatchID(ctx, b.id)
	b.log = logger.WithBatch(logger.WithContext(ctx, s.log), b.id, string(req.Kind))

	ctx, span := s.tracer.Start(ctx, "ingest.batch", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.String("batch_id", b.id),
		attribute.String("source", req.Source),
		attribute.Int("item_count", len(req.Items)),
		attribute.Bool("dry_run", req.DryRun),
	)...))
	defer span.End()

	result, err := s.run(ctx, b, start)

	status := string(b.state)
	switch {
	case errors.Is(err, domain.ErrAllRowsRejected):
		status = "REJECTED"
	case err != nil:
		s.batchMetrics.IncBatchFailure(string(req.Kind), err)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "batch failed")
	}
	s.obsMetrics.RecordIngestBatch(ctx, string(req.Kind), status)
	s.batchMetrics.ObserveBatch(string(req.Kind), status, len(req.Items), s.clock.Since(start))
	span.SetAttributes(
		attribute.String("status", status),
		attribute.Int("inserted", result.Inserted),
		attribute.Int("updated", result.Updated),
		attribute.Int("rejected", len(result.Errors)),
	)
	return result, err
}

func (s *Service) run(ctx context.Context, b *batch, start time.Time) (domain.BatchResult, error) {
	if len(b.req.Items) == 0 {
		b.transition(domain.StateCommitted)
		return domain.BatchResult{BatchID: b.id, Errors: []domain.RowError{}}, nil
	}

	b.transition(domain.StateNormalizing)
	s.normalize(b, start)

	b.transition(domain.StateValidating)
	s.validate(b)

	if len(b.rows) == 0 {
		b.transition(domain.StateAborted)
		s.obsMetrics.RecordIngestRows(ctx, string(b.kind), "rejected", len(b.errors))
		b.log.Info("batch rejected: no valid rows", zap.Int("rejected", len(b.errors)))
		return domain.BatchResult{}, &domain.RejectedBatchError{BatchID: b.id, Errors: b.errors}
	}

	s.assignIDs(b)

	var (
		stored  repository.Result
		session *resolve.Session
	)
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		b.transition(domain.StateResolving)
		if s.resolver != nil {
			session = s.resolver.Begin(tx)
		}
		if err := s.resolve(txCtx, b, session); err != nil {
			return err
		}

		b.transition(domain.StateCommitting)
		var err error
		stored, err = s.executor.Upsert(txCtx, tx, b.kind, b.rows)
		if err != nil {
			return err
		}
		if stored.Inserted+stored.Updated == 0 {
			return errNothingSaved
		}
		if b.req.DryRun {
			return errDryRun
		}
		return nil
	})

	b.errors = append(b.errors, stored.Errors...)
	sortRowErrors(b.errors)

	switch {
	case err == nil, errors.Is(err, errDryRun):
	case errors.Is(err, errNothingSaved):
		b.transition(domain.StateAborted)
		if session != nil {
			session.Discard()
		}
		s.obsMetrics.RecordIngestRows(ctx, string(b.kind), "rejected", len(b.errors))
		b.log.Info("batch rejected: every row refused by storage", zap.Int("rejected", len(b.errors)))
		return domain.BatchResult{}, &domain.RejectedBatchError{BatchID: b.id, Errors: b.errors}
	default:
		b.transition(domain.StateAborted)
		if session != nil {
			session.Discard()
		}
		b.log.Error("batch aborted", zap.Error(err), zap.Int("rows", len(b.rows)))
		return domain.BatchResult{}, &domain.AbortedBatchError{BatchID: b.id, Cause: err}
	}

	b.transition(domain.StateCommitted)
	if b.errors == nil {
		b.errors = []domain.RowError{}
	}
	result := domain.BatchResult{
		BatchID:  b.id,
		Inserted: stored.Inserted,
		Updated:  stored.Updated,
		Errors:   b.errors,
	}

	if b.req.DryRun {
		if session != nil {
			session.Discard()
		}
		b.log.Info("dry run rolled back",
			zap.Int("inserted", result.Inserted),
			zap.Int("updated", result.Updated),
			zap.Int("rejected", len(result.Errors)),
		)
		return result, nil
	}

	if session != nil {
		session.Commit()
	}
	s.obsMetrics.RecordIngestRows(ctx, string(b.kind), "inserted", result.Inserted)
	s.obsMetrics.RecordIngestRows(ctx, string(b.kind), "updated", result.Updated)
	s.obsMetrics.RecordIngestRows(ctx, string(b.kind), "rejected", len(result.Errors))

	b.log.Info("batch committed",
		zap.String("source", b.req.Source),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("rejected", len(result.Errors)),
		zap.Duration("duration", s.clock.Since(start)),
	)

	s.publish(ctx, b, stored)
	return result, nil
}

func (s *Service) normalize(b *batch, now time.Time) {
	bctx := normalize.BatchContext{
		Now:            now.UTC(),
		ProviderHint:   b.req.ProviderHint,
		OrganizationID: b.req.OrganizationID,
		CloudAccountID: b.req.CloudAccountID,
		CloudAccounts:  b.req.CloudAccounts,
		Rules:          s.rules.Get(),
	}

	b.rows = make([]repository.Row, 0, len(b.req.Items))
	for i, item := range b.req.Items {
		if item == nil {
			b.reject(i, errors.New("item must be an object"))
			continue
		}
		record, err := normalize.Record(b.kind, item, bctx)
		if err != nil {
			b.reject(i, err)
			continue
		}
		b.rows = append(b.rows, repository.Row{Index: i, Record: record})
	}
}

func (s *Service) validate(b *batch) {
	valid := b.rows[:0]
	for _, row := range b.rows {
		if err := s.validator.Struct(row.Record); err != nil {
			b.reject(row.Index, err)
			continue
		}
		valid = append(valid, row)
	}
	b.rows = valid
	sortRowErrors(b.errors)
}

func (s *Service) resolve(ctx context.Context, b *batch, session *resolve.Session) error {
	if b.kind != domain.KindRecommendations || session == nil {
		return nil
	}
	for _, row := range b.rows {
		rec, ok := row.Record.(*domain.Recommendation)
		if !ok {
			continue
		}
		if err := session.Link(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// assignIDs gives new surrogate ids; a conflicting upsert keeps the stored id.
func (s *Service) assignIDs(b *batch) {
	for _, row := range b.rows {
		switch r := row.Record.(type) {
		case *domain.Resource:
			r.ID = s.genID.Generate()
		case *domain.CostRecord:
			r.ID = s.genID.Generate()
		}
	}
}

// publish emits one summary per organization; it is skipped once the caller has gone away.
func (s *Service) publish(ctx context.Context, b *batch, stored repository.Result) {
	if s.publisher == nil {
		return
	}
	if ctx.Err() != nil {
		b.log.Info("batch committed after cancellation, activity skipped")
		return
	}

	orgs := make([]string, 0, len(stored.Organizations))
	for org := range stored.Organizations {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	for _, org := range orgs {
		counts := stored.Organizations[org]
		s.publisher.Publish(ctx, org, activity.Event{
			Type:      b.kind.EventType(),
			Timestamp: s.clock.Now().UTC(),
			Payload: activity.BulkSummary{
				Source:         b.req.Source,
				BatchID:        b.id,
				ProcessedCount: counts.Inserted + counts.Updated,
				InsertedTotal:  counts.Inserted,
				UpdatedTotal:   counts.Updated,
			},
		})
	}
}

func (s *Service) newBatchID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func sortRowErrors(errs []domain.RowError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Index < errs[j].Index })
}
