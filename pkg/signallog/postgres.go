package signallog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/pagination"
)

const postgresDDL = `
	CREATE TABLE IF NOT EXISTS signals (
		internal_id BIGSERIAL PRIMARY KEY,
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

// PostgresStore is the lib/pq-backed Signal Log variant, selected when
// STORAGE_DRIVER is "postgres".
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB (lib/pq driver) and
// ensures its schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if _, err := s.db.Exec(postgresDDL); err != nil {
		return nil, fmt.Errorf("signallog: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec contracts.SignalRecord) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.OrgID, rec.SignalID, rec.SourceSystem, rec.LearnerReference,
		rec.Timestamp, rec.SchemaVersion, string(rec.Payload), nullableString(metadata), rec.AcceptedAt)
	if err != nil {
		return fmt.Errorf("signallog: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryByRange(ctx context.Context, orgID, learnerRef, from, to, cursor string, pageSize int) ([]contracts.SignalRecord, string, error) {
	afterID, ok := pagination.DecodeCursor(cursor)
	if !ok {
		return nil, "", &InvalidCursorError{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT internal_id, org_id, signal_id, source_system, learner_reference,
			timestamp, schema_version, payload, metadata, accepted_at
		FROM signals
		WHERE org_id = $1 AND learner_reference = $2 AND accepted_at >= $3 AND accepted_at <= $4
			AND internal_id > $5
		ORDER BY accepted_at ASC, internal_id ASC
		LIMIT $6`,
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

func (s *PostgresStore) GetByIDs(ctx context.Context, orgID string, signalIDs []string) ([]contracts.SignalRecord, error) {
	if len(signalIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(signalIDs))
	args := make([]any, 0, len(signalIDs)+1)
	args = append(args, orgID)
	for i, id := range signalIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT internal_id, org_id, signal_id, source_system, learner_reference,
			timestamp, schema_version, payload, metadata, accepted_at
		FROM signals
		WHERE org_id = $1 AND signal_id IN (%s)
		ORDER BY accepted_at ASC, internal_id ASC`, strings.Join(placeholders, ",")), args...)
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
	return records, s.classifyMissing(ctx, signalIDs, records)
}

func (s *PostgresStore) classifyMissing(ctx context.Context, signalIDs []string, found []contracts.SignalRecord) error {
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

	placeholders := make([]string, len(missing))
	args := make([]any, len(missing))
	for i, id := range missing {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT signal_id FROM signals WHERE signal_id IN (%s)`, strings.Join(placeholders, ",")), args...)
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
	return &GetByIDsError{Code: contracts.CodeSignalsNotInOrgScope}
}
