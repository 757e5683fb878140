package postgres

// SQL queries for event queue storage operations

const (
	// queryCreateEvent inserts a fully-formed event record. IDs are assigned
	// by intake (UUID), so there is no RETURNING clause.
	queryCreateEvent = `
		INSERT INTO events (
			id, event_name, payload, headers, client_ip,
			monitor_status, queue_status, retry_count, consent_given,
			was_originally_encrypted, final_payload_encrypted,
			transmission_method, created_at, processed_at, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	// querySelectPendingBatch claims the next dispatch window: pending
	// records plus failed records still below the retry ceiling, oldest
	// first. Selection happens under the dispatch lease, so no row-level
	// locking is needed.
	querySelectPendingBatch = `
		SELECT ` + eventColumns + `
		FROM events
		WHERE queue_status = 'pending'
		   OR (queue_status = 'failed' AND retry_count < $1)
		ORDER BY created_at ASC
		LIMIT $2
	`

	// queryMarkCompleted is idempotent: re-completing a completed record
	// rewrites the same terminal state.
	queryMarkCompleted = `
		UPDATE events
		SET queue_status = 'completed', processed_at = NOW(), error_message = NULL
		WHERE id = ANY($1) AND queue_status IS NOT NULL
		RETURNING id
	`

	// queryMarkFailed increments retry_count once per call; each call
	// represents one concrete dispatch attempt.
	queryMarkFailed = `
		UPDATE events
		SET queue_status = 'failed', retry_count = retry_count + 1, error_message = $2
		WHERE id = ANY($1) AND queue_status IS NOT NULL
		RETURNING id
	`

	// queryMarkPending is the explicit requeue path used when an operator
	// resets failed records.
	queryMarkPending = `
		UPDATE events
		SET queue_status = 'pending', error_message = NULL
		WHERE id = ANY($1) AND queue_status IS NOT NULL
		RETURNING id
	`

	// queryStats computes every dashboard counter in one scan.
	queryStats = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE queue_status = 'pending'),
			COUNT(*) FILTER (WHERE queue_status = 'completed'),
			COUNT(*) FILTER (WHERE queue_status = 'failed'),
			COUNT(*) FILTER (WHERE monitor_status = 'allowed'),
			COUNT(*) FILTER (WHERE monitor_status = 'denied'),
			COUNT(*) FILTER (WHERE monitor_status = 'bot_detected'),
			COUNT(*) FILTER (WHERE monitor_status = 'error'),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '1 hour'),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours')
		FROM events
	`

	queryTopEventNames = `
		SELECT event_name, COUNT(*) AS cnt
		FROM events
		GROUP BY event_name
		ORDER BY cnt DESC, event_name ASC
		LIMIT $1
	`

	// queryPurchasePayloads feeds the revenue aggregate. Encrypted payloads
	// cannot be parsed server-side and are skipped.
	queryPurchasePayloads = `
		SELECT payload
		FROM events
		WHERE event_name = 'purchase' AND final_payload_encrypted = FALSE
	`

	// queryCleanup deletes aged records while preserving protected event
	// names regardless of age. An empty preserve array protects nothing.
	queryCleanup = `
		DELETE FROM events
		WHERE created_at < NOW() - make_interval(days => $1)
		  AND NOT (event_name = ANY($2))
	`

	queryDeleteAll = `DELETE FROM events`

	// eventColumns is the canonical select list; keep in scanEventRow order.
	eventColumns = `
		id, event_name, payload, headers, client_ip,
		monitor_status, queue_status, retry_count, consent_given,
		was_originally_encrypted, final_payload_encrypted,
		transmission_method, created_at, processed_at, error_message
	`
)
