package signallog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/pagination"
)

// InvalidCursorError reports a page_token that failed to decode.
type InvalidCursorError struct{}

func (e *InvalidCursorError) Error() string { return contracts.CodeInvalidPageToken }

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]contracts.SignalRecord, error) {
	var records []contracts.SignalRecord
	for rows.Next() {
		var rec contracts.SignalRecord
		var payload string
		var metadata sql.NullString

		if err := rows.Scan(&rec.InternalID, &rec.OrgID, &rec.SignalID, &rec.SourceSystem,
			&rec.LearnerReference, &rec.Timestamp, &rec.SchemaVersion, &payload, &metadata, &rec.AcceptedAt); err != nil {
			return nil, fmt.Errorf("signallog: scan: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		if metadata.Valid && metadata.String != "" {
			var m contracts.Metadata
			if err := json.Unmarshal([]byte(metadata.String), &m); err != nil {
				return nil, fmt.Errorf("signallog: unmarshal metadata: %w", err)
			}
			rec.Metadata = &m
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signallog: rows: %w", err)
	}
	return records, nil
}

// paginate trims a records slice fetched with LIMIT pageSize+1 back down to
// pageSize and derives the opaque next-page cursor from the last retained
// record's internal id.
func paginate(records []contracts.SignalRecord, pageSize int) ([]contracts.SignalRecord, string, error) {
	if len(records) <= pageSize {
		return records, "", nil
	}
	page := records[:pageSize]
	next := pagination.EncodeCursor(page[len(page)-1].InternalID)
	return page, next, nil
}

func marshalMetadata(m *contracts.Metadata) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("signallog: marshal metadata: %w", err)
	}
	return b, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
