package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
)

const createDepositsTable = `
CREATE TABLE IF NOT EXISTS deposits (
	id BIGSERIAL PRIMARY KEY,
	transaction_id VARCHAR(64) NOT NULL UNIQUE,
	external_id VARCHAR(64) NOT NULL UNIQUE,
	amount_cents BIGINT NOT NULL,
	status VARCHAR(20) NOT NULL,
	payment_url TEXT,
	provider VARCHAR(32) NOT NULL DEFAULT 'abacatepay',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const createWebhookEventsTable = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id BIGSERIAL PRIMARY KEY,
	event_id VARCHAR(64) NOT NULL UNIQUE,
	event_type VARCHAR(64) NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload_text TEXT NOT NULL
)`

var (
	schemaMu    sync.Mutex
	schemaReady bool
)

// EnsureSchema creates the deposits and webhook_events tables if absent.
// Safe to call repeatedly and from concurrent requests; after the first
// success it is a no-op. A failed attempt is retried on the next call.
func EnsureSchema(db *sql.DB) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if schemaReady {
		return nil
	}

	for _, stmt := range []string{createDepositsTable, createWebhookEventsTable} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}

	schemaReady = true
	log.Println("Database schema ready")
	return nil
}
