package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS games (
    contract_game_id  NUMERIC(78,0) NOT NULL,
    contract_address  TEXT NOT NULL,
    display_id        TEXT NOT NULL UNIQUE,
    player1           TEXT NOT NULL,
    player2           TEXT NOT NULL,
    creator           TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (contract_address, contract_game_id)
)`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(pctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO games (
        contract_game_id, contract_address, display_id, player1, player2, creator, created_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7)
      ON CONFLICT DO NOTHING`
	res, err := r.db.ExecContext(ctx, q,
		fmt.Sprintf("%d", rec.ContractGameID),
		normalizeAddress(rec.ContractAddress),
		rec.DisplayID,
		normalizeAddress(rec.Player1),
		normalizeAddress(rec.Player2),
		normalizeAddress(rec.Creator),
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert game: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

const selectColumns = `SELECT contract_game_id::TEXT, contract_address, display_id, player1, player2, creator, created_at FROM games`

func (r *PostgresRepository) ByContractGameID(ctx context.Context, contractAddress string, id uint64) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE contract_address = $1 AND contract_game_id = $2`,
		normalizeAddress(contractAddress), fmt.Sprintf("%d", id))
	return scanRecord(row)
}

func (r *PostgresRepository) ByDisplayID(ctx context.Context, displayID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE display_id = $1`, strings.TrimSpace(displayID))
	return scanRecord(row)
}

func (r *PostgresRepository) Delete(ctx context.Context, contractAddress string, id uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE contract_address = $1 AND contract_game_id = $2`,
		normalizeAddress(contractAddress), fmt.Sprintf("%d", id))
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec Record
		id  string
	)
	err := row.Scan(&id, &rec.ContractAddress, &rec.DisplayID, &rec.Player1, &rec.Player2, &rec.Creator, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game: %w", err)
	}
	if _, err := fmt.Sscanf(id, "%d", &rec.ContractGameID); err != nil {
		return nil, fmt.Errorf("parse contract game id %q: %w", id, err)
	}
	return &rec, nil
}
