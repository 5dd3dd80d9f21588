package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// Schema is the ordered list of statements AutoMigrate applies. Every statement is
// idempotent so it can run on every boot.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
        id TEXT PRIMARY KEY,
        username VARCHAR(50) UNIQUE NOT NULL,
        password_hash VARCHAR(255) NOT NULL,
        avatar_url TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,

	`CREATE TABLE IF NOT EXISTS boats (
        id TEXT PRIMARY KEY,
        owner_id TEXT NOT NULL REFERENCES profiles(id),
        title TEXT NOT NULL DEFAULT '',
        make TEXT NOT NULL DEFAULT '',
        model TEXT NOT NULL DEFAULT '',
        price NUMERIC(12,2),
        status VARCHAR(20) NOT NULL DEFAULT 'draft',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,

	`CREATE TABLE IF NOT EXISTS boat_photos (
        id BIGSERIAL PRIMARY KEY,
        boat_id TEXT NOT NULL REFERENCES boats(id) ON DELETE CASCADE,
        photo_url TEXT NOT NULL,
        is_primary BOOLEAN NOT NULL DEFAULT false
    )`,

	`CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY,
        boat_id TEXT NOT NULL REFERENCES boats(id),
        buyer_id TEXT NOT NULL REFERENCES profiles(id),
        seller_id TEXT NOT NULL REFERENCES profiles(id),
        last_message_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        buyer_last_read_at TIMESTAMPTZ,
        seller_last_read_at TIMESTAMPTZ,
        is_archived_by_buyer BOOLEAN NOT NULL DEFAULT false,
        is_archived_by_seller BOOLEAN NOT NULL DEFAULT false,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        CONSTRAINT conversations_distinct_parties CHECK (buyer_id <> seller_id),
        CONSTRAINT conversations_boat_buyer_seller_key UNIQUE (boat_id, buyer_id, seller_id)
    )`,

	`CREATE INDEX IF NOT EXISTS conversations_buyer_idx ON conversations (buyer_id, last_message_at DESC)`,
	`CREATE INDEX IF NOT EXISTS conversations_seller_idx ON conversations (seller_id, last_message_at DESC)`,

	`CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        seq BIGSERIAL,
        conversation_id TEXT NOT NULL REFERENCES conversations(id),
        sender_id TEXT NOT NULL REFERENCES profiles(id),
        message TEXT NOT NULL CHECK (length(btrim(message)) > 0),
        is_read BOOLEAN NOT NULL DEFAULT false,
        created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
    )`,

	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at, seq)`,

	`CREATE TABLE IF NOT EXISTS events (
        id TEXT PRIMARY KEY,
        slug TEXT UNIQUE NOT NULL,
        title TEXT NOT NULL,
        short_description TEXT NOT NULL DEFAULT '',
        event_start TIMESTAMPTZ NOT NULL,
        event_end TIMESTAMPTZ,
        all_day BOOLEAN NOT NULL DEFAULT false,
        location_name TEXT NOT NULL DEFAULT '',
        location_address TEXT NOT NULL DEFAULT '',
        location_city TEXT NOT NULL DEFAULT '',
        location_state TEXT NOT NULL DEFAULT '',
        location_zip TEXT NOT NULL DEFAULT '',
        registration_url TEXT NOT NULL DEFAULT ''
    )`,
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range Schema {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
