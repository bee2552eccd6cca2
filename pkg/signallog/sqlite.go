package signallog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/pagination"
)

const sqliteDDL = `
	CREATE TABLE IF NOT EXISTS signals (
		internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id TEXT NOT NULL,
		signal_id TEXT NOT NULL,
		source_system TEXT NOT NULL,
		learner_reference TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		payload TEXT NOT NULL,
		metadata TEXT,
		accepted_at TEXT NOT NULL,
		UNIQUE (org_id, signal_id)
	);
	CREATE INDEX IF NOT EXISTS idx_signals_range
		ON signals (org_id, learner_reference, accepted_at, internal_id);
`

// SQLiteStore is the default Signal Log backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open *sql.DB (modernc.org/sqlite driver)
// and ensures its schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if _, err := s.db.Exec(sqliteDDL); err != nil {
		return nil, fmt.Errorf("signallog: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec contracts.SignalRecord) error {
	var metadata []byte
	var err error
	if rec.Metadata != nil {
		metadata, err = marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (org_id, signal_id, source_system, learner_reference,
			timestamp, schema_version, payload, metadata, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrgID, rec.SignalID, rec.SourceSystem, rec.LearnerReference,
		rec.Timestamp, rec.SchemaVersion, string(rec.Payload), nullableString(metadata), rec.AcceptedAt)
	if err != nil {
		return fmt.Errorf("signallog: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryByRange(ctx context.Context, orgID, learnerRef, from, to, cursor string, pageSize int) ([]contracts.SignalRecord, string, error) {
	afterID, ok := pagination.DecodeCursor(cursor)
	if !ok {
		return nil, "", &InvalidCursorError{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT internal_id, org_id, signal_id, source_system, learner_reference,
			timestamp, schema_version, payload, metadata, accepted_at
		FROM signals
		WHERE org_id = ? AND learner_reference = ? AND accepted_at >= ? AND accepted_at <= ?
			AND internal_id > ?
		ORDER BY accepted_at ASC, internal_id ASC
		LIMIT ?`,
		orgID, learnerRef, from, to, afterID, pageSize+1)
	if err != nil {
		return nil, "", fmt.Errorf("signallog: query range: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, "", err
	}

	return paginate(records, pageSize)
}

func (s *SQLiteStore) GetByIDs(ctx context.Context, orgID string, signalIDs []string) ([]contracts.SignalRecord, error) {
	if len(signalIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(signalIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(signalIDs)+1)
	args = append(args, orgID)
	for _, id := range signalIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT internal_id, org_id, signal_id, source_system, learner_reference,
			timestamp, schema_version, payload, metadata, accepted_at
		FROM signals
		WHERE org_id = ? AND signal_id IN (%s)
		ORDER BY accepted_at ASC, internal_id ASC`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("signallog: get by ids: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if len(records) == len(signalIDs) {
		return records, nil
	}
	return records, s.classifyMissing(ctx, orgID, signalIDs, records)
}

// classifyMissing determines, for a GetByIDs call that did not return every
// requested id, whether any id never existed at all (CodeUnknownSignalID)
// versus existing under a different org (CodeSignalsNotInOrgScope).
// CodeUnknownSignalID takes precedence when both are present in the batch.
func (s *SQLiteStore) classifyMissing(ctx context.Context, orgID string, signalIDs []string, found []contracts.SignalRecord) error {
	foundSet := make(map[string]struct{}, len(found))
	for _, r := range found {
		foundSet[r.SignalID] = struct{}{}
	}

	missing := make([]string, 0)
	for _, id := range signalIDs {
		if _, ok := foundSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		// Cardinality mismatch came from duplicate ids in the request,
		// not from genuinely missing rows.
		return nil
	}

	placeholders := strings.Repeat("?,", len(missing))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(missing))
	for i, id := range missing {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT signal_id FROM signals WHERE signal_id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("signallog: classify missing: %w", err)
	}
	defer rows.Close()

	existsElsewhere := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("signallog: classify missing scan: %w", err)
		}
		existsElsewhere[id] = struct{}{}
	}

	for _, id := range missing {
		if _, ok := existsElsewhere[id]; !ok {
			return &GetByIDsError{Code: contracts.CodeUnknownSignalID}
		}
	}
	_ = orgID
	return &GetByIDsError{Code: contracts.CodeSignalsNotInOrgScope}
}
