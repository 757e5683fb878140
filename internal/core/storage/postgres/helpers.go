package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/shopspring/decimal"
)

type decimalValue = decimal.Decimal

// marshalHeaders marshals the filtered header map to JSON for storage.
// Nil or empty maps produce nil (SQL NULL) rather than a JSON "null" string.
func marshalHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return raw, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func queueStatusValue(s *v1.QueueStatus) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into an Event struct.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
// Column order must match eventColumns.
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var headersJSON []byte
	var clientIP, queueStatus, errorMessage sql.NullString
	var consentGiven sql.NullBool
	var processedAt sql.NullTime

	err := row.Scan(
		&evt.ID,
		&evt.Name,
		&evt.Payload,
		&headersJSON,
		&clientIP,
		&evt.MonitorStatus,
		&queueStatus,
		&evt.RetryCount,
		&consentGiven,
		&evt.WasOriginallyEncrypted,
		&evt.FinalPayloadEncrypted,
		&evt.TransmissionMethod,
		&evt.CreatedAt,
		&processedAt,
		&errorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &evt.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	evt.ClientIP = clientIP.String
	if queueStatus.Valid {
		evt.QueueStatus = v1.QueueStatusPtr(v1.QueueStatus(queueStatus.String))
	}
	if consentGiven.Valid {
		evt.ConsentGiven = v1.BoolPtr(consentGiven.Bool)
	}
	if processedAt.Valid {
		t := processedAt.Time
		evt.ProcessedAt = &t
	}
	evt.ErrorMessage = errorMessage.String

	return &evt, nil
}

// extractPurchaseValue parses a plaintext purchase payload and returns
// params.value as an exact decimal. Accepts both JSON numbers and numeric
// strings, which is how e-commerce frontends variously send it.
func extractPurchaseValue(payload string) (decimal.Decimal, bool) {
	var doc struct {
		Params map[string]json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return decimal.Zero, false
	}
	raw, ok := doc.Params["value"]
	if !ok {
		return decimal.Zero, false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		value, err := decimal.NewFromString(asString)
		if err != nil {
			return decimal.Zero, false
		}
		return value, true
	}

	value, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}
