// Package repository writes canonical ingest records with native upserts and reports
// whether each row was inserted or updated from the database effect.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/smallbiznis/cloudunify/internal/observability/metrics"
	"github.com/smallbiznis/cloudunify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultChunkSize = 500

	// maxBindParams is PostgreSQL's limit on parameters in one statement.
	maxBindParams = 65535
)

var ErrUnsupportedDialect = errors.New("unsupported_dialect")

// Row is a record with its 0-based position in the submitted batch.
type Row struct {
	Index  int
	Record domain.Record
}

// Counts is the effect of an upsert on stored rows.
type Counts struct {
	Inserted int
	Updated  int
}

// Result counts what the database did, in total and per organization. Errors are rows
// rejected by a constraint.
type Result struct {
	Counts
	Organizations map[string]Counts
	Errors        []domain.RowError
}

func (r *Result) add(orgID string, inserted bool) {
	if r.Organizations == nil {
		r.Organizations = make(map[string]Counts)
	}
	org := r.Organizations[orgID]
	if inserted {
		r.Inserted++
		org.Inserted++
	} else {
		r.Updated++
		org.Updated++
	}
	r.Organizations[orgID] = org
}

type effect struct {
	OrganizationID string
	Revision       int64
}

// Executor is stateless; every call writes into the caller's transaction.
type Executor struct {
	chunkSize int
	metrics   *metrics.BatchMetrics
	log       *zap.Logger
}

func NewExecutor(cfg config.Config, log *zap.Logger) *Executor {
	return newExecutor(cfg.Ingest.ChunkSize, metrics.Batches(), log)
}

func newExecutor(chunkSize int, batchMetrics *metrics.BatchMetrics, log *zap.Logger) *Executor {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		chunkSize: chunkSize,
		metrics:   batchMetrics,
		log:       log.Named("ingest.repository"),
	}
}

// Upsert writes rows in order. Rows sharing a natural key land in different chunks, so a
// later row updates the earlier one. A row-level constraint violation rejects only that row;
// any other error is returned and the caller must roll back.
func (e *Executor) Upsert(ctx context.Context, tx *gorm.DB, kind domain.Kind, rows []Row) (Result, error) {
	var result Result
	if len(rows) == 0 {
		return result, nil
	}

	t, ok := tables[kind]
	if !ok {
		return result, domain.ErrInvalidKind
	}

	tx = tx.WithContext(ctx)
	dialect := tx.Dialector.Name()
	switch dialect {
	case db.TypePostgres, db.TypeSQLite, db.TypeMySQL:
	default:
		return result, fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}

	for n, chunk := range e.chunks(rows, chunkLimit(e.chunkSize, t)) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.writeChunk(tx, dialect, t, kind, n, chunk, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// chunkLimit caps the configured chunk size so one statement stays under maxBindParams.
func chunkLimit(configured int, t table) int {
	limit := configured
	if perRow := len(t.columns); perRow > 0 && limit > maxBindParams/perRow {
		limit = maxBindParams / perRow
	}
	return limit
}

func (e *Executor) chunks(rows []Row, size int) [][]Row {
	var (
		out     [][]Row
		current []Row
		seen    = map[string]struct{}{}
	)
	for _, row := range rows {
		key := row.Record.NaturalKey()
		if _, dup := seen[key]; dup || len(current) >= size {
			out = append(out, current)
			current = nil
			seen = map[string]struct{}{}
		}
		current = append(current, row)
		seen[key] = struct{}{}
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

func (e *Executor) writeChunk(tx *gorm.DB, dialect string, t table, kind domain.Kind, n int, chunk []Row, result *Result) error {
	savepoint := fmt.Sprintf("ingest_chunk_%d", n)
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return err
	}

	effects, err := e.write(tx, dialect, t, chunk)
	if err == nil {
		result.apply(effects)
		return nil
	}
	if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
		return errors.Join(err, rbErr)
	}
	if !db.IsRowConstraintErr(err) {
		return err
	}

	e.metrics.IncChunkFallback(string(kind))
	e.log.Debug("chunk rejected by constraint, retrying row by row",
		zap.String("table", t.name),
		zap.Int("chunk", n),
		zap.Int("rows", len(chunk)),
		zap.Error(err),
	)

	for _, row := range chunk {
		rowSavepoint := fmt.Sprintf("ingest_row_%d", row.Index)
		if err := tx.SavePoint(rowSavepoint).Error; err != nil {
			return err
		}
		effects, err := e.write(tx, dialect, t, []Row{row})
		if err == nil {
			result.apply(effects)
			continue
		}
		if rbErr := tx.RollbackTo(rowSavepoint).Error; rbErr != nil {
			return errors.Join(err, rbErr)
		}
		if !db.IsRowConstraintErr(err) {
			return err
		}
		result.Errors = append(result.Errors, domain.RowError{
			Index:   row.Index,
			Message: "rejected by database: " + err.Error(),
		})
	}
	return nil
}

func (r *Result) apply(effects []effect) {
	for _, eff := range effects {
		r.add(eff.OrganizationID, eff.Revision <= 1)
	}
}

func (e *Executor) write(tx *gorm.DB, dialect string, t table, rows []Row) ([]effect, error) {
	if dialect == db.TypeMySQL {
		return e.writeMySQL(tx, t, rows)
	}

	query, args, err := buildReturning(dialect, t, rows)
	if err != nil {
		return nil, err
	}
	var effects []effect
	if err := tx.Raw(query, args...).Scan(&effects).Error; err != nil {
		return nil, err
	}
	if len(effects) != len(rows) {
		return nil, fmt.Errorf("upsert %s returned %d rows for %d records", t.name, len(effects), len(rows))
	}
	return effects, nil
}

// writeMySQL runs one statement per row: affected rows is 1 for an insert and 2 for an update.
func (e *Executor) writeMySQL(tx *gorm.DB, t table, rows []Row) ([]effect, error) {
	query := buildMySQL(t)
	effects := make([]effect, 0, len(rows))
	for _, row := range rows {
		args, err := t.values(row.Record)
		if err != nil {
			return nil, err
		}
		res := tx.Exec(query, args...)
		if res.Error != nil {
			return nil, res.Error
		}
		revision := int64(2)
		if res.RowsAffected == 1 {
			revision = 1
		}
		effects = append(effects, effect{OrganizationID: row.Record.Organization(), Revision: revision})
	}
	return effects, nil
}

func buildReturning(dialect string, t table, rows []Row) (string, []any, error) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*len(t.columns))

	b.WriteString("INSERT INTO ")
	b.WriteString(t.name)
	b.WriteString(" (")
	b.WriteString(strings.Join(t.columns, ", "))
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ") + ")"
	for i, row := range rows {
		values, err := t.values(row.Record)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, bindArgs(dialect, values)...)
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(t.keys, ", "))
	b.WriteString(") DO UPDATE SET ")
	for _, col := range t.updates {
		b.WriteString(col)
		b.WriteString(" = excluded.")
		b.WriteString(col)
		b.WriteString(", ")
	}
	b.WriteString(updatedAtClause(dialect, t.name))
	fmt.Fprintf(&b, ", revision = %s.revision + 1 RETURNING organization_id, revision", t.name)
	return b.String(), args, nil
}

func buildMySQL(t table) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.name)
	b.WriteString(" (")
	b.WriteString(strings.Join(t.columns, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", "))
	b.WriteString(") ON DUPLICATE KEY UPDATE ")
	for _, col := range t.updates {
		fmt.Fprintf(&b, "%s = VALUES(%s), ", col, col)
	}
	b.WriteString(updatedAtClause(db.TypeMySQL, t.name))
	b.WriteString(", revision = revision + 1")
	return b.String()
}
