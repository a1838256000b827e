// Package journal records provisioning decisions in MariaDB so operators
// can audit which pattern a device matched and which resources it was
// handed.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ztp-topology-engine/internal/engine"
	"ztp-topology-engine/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

type Store struct {
	db *sql.DB
}

// Open connects to MariaDB and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (s *Store) EnsureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS provisioning_match (
			entry_id CHAR(36) PRIMARY KEY,
			systemmac VARCHAR(32) NOT NULL,
			pattern_name VARCHAR(255) NOT NULL,
			definition VARCHAR(255) NOT NULL,
			matched_at DATETIME NOT NULL,
			INDEX idx_match_systemmac (systemmac)
		)`,
		`CREATE TABLE IF NOT EXISTS provisioning_allocation (
			entry_id CHAR(36) PRIMARY KEY,
			systemmac VARCHAR(32) NOT NULL,
			pool_name VARCHAR(255) NOT NULL,
			alloc_key VARCHAR(255) NOT NULL,
			allocated_at DATETIME NOT NULL,
			INDEX idx_alloc_systemmac (systemmac)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create journal schema: %w", err)
		}
	}
	return nil
}

// MatchRecord is one journaled pattern match.
type MatchRecord struct {
	ID          string
	SystemMAC   string
	PatternName string
	Definition  string
	MatchedAt   time.Time
}

// AllocationRecord is one journaled resource allocation.
type AllocationRecord struct {
	ID          string
	SystemMAC   string
	Pool        string
	Key         string
	AllocatedAt time.Time
}

// RecordMatch journals a successful pattern match and returns the entry id.
func (s *Store) RecordMatch(node *model.Node, pattern *engine.Pattern) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO provisioning_match (entry_id, systemmac, pattern_name, definition, matched_at) VALUES (?, ?, ?, ?, ?)",
		id, node.SystemMAC, pattern.Name, pattern.Definition, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to journal match for %s: %w", node.SystemMAC, err)
	}
	return id, nil
}

// RecordAllocation journals a resource allocation and returns the entry id.
func (s *Store) RecordAllocation(node *model.Node, pool, key string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO provisioning_allocation (entry_id, systemmac, pool_name, alloc_key, allocated_at) VALUES (?, ?, ?, ?, ?)",
		id, node.SystemMAC, pool, key, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to journal allocation for %s: %w", node.SystemMAC, err)
	}
	return id, nil
}

// MatchHistory returns the journaled matches for a device identity, newest
// first.
func (s *Store) MatchHistory(systemmac string) ([]MatchRecord, error) {
	rows, err := s.db.Query(
		"SELECT entry_id, systemmac, pattern_name, definition, matched_at FROM provisioning_match WHERE systemmac = ? ORDER BY matched_at DESC",
		model.NormalizeSystemMAC(systemmac),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query match history: %w", err)
	}
	defer rows.Close()

	var records []MatchRecord
	for rows.Next() {
		var r MatchRecord
		if err := rows.Scan(&r.ID, &r.SystemMAC, &r.PatternName, &r.Definition, &r.MatchedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// AllocationHistory returns the journaled allocations for a device
// identity, newest first.
func (s *Store) AllocationHistory(systemmac string) ([]AllocationRecord, error) {
	rows, err := s.db.Query(
		"SELECT entry_id, systemmac, pool_name, alloc_key, allocated_at FROM provisioning_allocation WHERE systemmac = ? ORDER BY allocated_at DESC",
		model.NormalizeSystemMAC(systemmac),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation history: %w", err)
	}
	defer rows.Close()

	var records []AllocationRecord
	for rows.Next() {
		var r AllocationRecord
		if err := rows.Scan(&r.ID, &r.SystemMAC, &r.Pool, &r.Key, &r.AllocatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
