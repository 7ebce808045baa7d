// Package idempotency persists one record per (owner, key) so a retried
// request replays the first response instead of repeating its side effects.
//
// The record is inserted inside the caller's transaction before any other
// write. A concurrent request with the same key blocks on that insert until
// the first transaction finishes, then reads the committed response.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/storage"
)

var (
	// ErrInProgress means a record exists but no response was saved within
	// the polling budget. Callers surface it as a retry-later conflict.
	ErrInProgress = errors.New("idempotent request still in progress")
	// ErrNotFound means no record exists for (owner, key).
	ErrNotFound = errors.New("idempotency record not found")
)

// HeaderPair is one response header. Order and duplicates are preserved.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is the replayable HTTP response stored for a key.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// ActionKind tells the caller what Begin decided.
type ActionKind int

const (
	// StartProcessing: the caller owns a fresh record and its open
	// transaction, and must finish with SaveResponse.
	StartProcessing ActionKind = iota
	// ReturnSaved: the request already completed; replay Saved verbatim.
	ReturnSaved
)

func (k ActionKind) String() string {
	switch k {
	case StartProcessing:
		return "start_processing"
	case ReturnSaved:
		return "return_saved"
	default:
		return "unknown"
	}
}

// NextAction is the result of Begin.
type NextAction struct {
	Kind  ActionKind
	Tx    pgx.Tx
	Saved SavedResponse
}

type insertOutcome int

const (
	created insertOutcome = iota
	alreadyExists
)

// Option configures a Store.
type Option func(*Store)

// WithPolling sets how many times Begin re-reads a record that has no
// response yet, and the pause between reads.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.pollAttempts = attempts
		}
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// Store reads and writes idempotency records.
type Store struct {
	conn         storage.Conn
	log          zerolog.Logger
	pollAttempts int
	pollInterval time.Duration
}

// NewStore creates a Store on top of conn, normally the pgx pool.
func NewStore(conn storage.Conn, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		conn:         conn,
		log:          log.With().Str("component", "idempotency").Logger(),
		pollAttempts: 5,
		pollInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin claims (owner, key) or returns the response saved for it.
func (s *Store) Begin(ctx context.Context, owner uuid.UUID, key Key) (NextAction, error) {
	for attempt := 1; ; attempt++ {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return NextAction{}, fmt.Errorf("begin idempotency transaction: %w", err)
		}

		outcome, err := tryInsert(ctx, tx, owner, key)
		if err != nil {
			storage.Rollback(ctx, tx)
			return NextAction{}, err
		}
		if outcome == created {
			return NextAction{Kind: StartProcessing, Tx: tx}, nil
		}
		storage.Rollback(ctx, tx)

		saved, err := s.readForShare(ctx, owner, key)
		switch {
		case err == nil:
			s.log.Debug().
				Str("owner_id", owner.String()).
				Str("idempotency_key", key.String()).
				Msg("replaying saved response")
			return NextAction{Kind: ReturnSaved, Saved: saved}, nil
		case errors.Is(err, ErrNotFound):
			// Deleted between our conflict and the read; claim it again.
		case errors.Is(err, ErrInProgress):
			s.log.Warn().
				Str("owner_id", owner.String()).
				Str("idempotency_key", key.String()).
				Int("attempt", attempt).
				Msg("idempotency record has no saved response")
		default:
			return NextAction{}, err
		}

		if attempt >= s.pollAttempts {
			return NextAction{}, ErrInProgress
		}
		select {
		case <-ctx.Done():
			return NextAction{}, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// SaveResponse stores resp on the record claimed by Begin and commits tx.
// It must be the last statement on tx. On failure tx is rolled back.
func (s *Store) SaveResponse(ctx context.Context, tx pgx.Tx, owner uuid.UUID, key Key, resp SavedResponse) (SavedResponse, error) {
	defer storage.Rollback(ctx, tx)

	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return SavedResponse{}, err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE idempotency
		 SET response_status_code = $3, response_headers = $4, response_body = $5
		 WHERE user_id = $1 AND idempotency_key = $2`,
		owner, key.String(), int16(resp.StatusCode), headers, body)
	if err != nil {
		return SavedResponse{}, fmt.Errorf("save idempotent response: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return SavedResponse{}, fmt.Errorf("save idempotent response: %w", ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return SavedResponse{}, fmt.Errorf("commit idempotent response: %w", err)
	}
	return resp, nil
}

// Get returns the saved response without taking locks. A record without a
// response yields ErrInProgress.
func (s *Store) Get(ctx context.Context, owner uuid.UUID, key Key) (*SavedResponse, error) {
	saved, err := readSaved(ctx, s.conn, owner, key, false)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func tryInsert(ctx context.Context, tx pgx.Tx, owner uuid.UUID, key Key) (insertOutcome, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO idempotency (user_id, idempotency_key, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT DO NOTHING`,
		owner, key.String())
	if err != nil {
		return 0, fmt.Errorf("insert idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alreadyExists, nil
	}
	return created, nil
}

// readForShare blocks behind any transaction still holding the row.
func (s *Store) readForShare(ctx context.Context, owner uuid.UUID, key Key) (SavedResponse, error) {
	return readSaved(ctx, s.conn, owner, key, true)
}

func readSaved(ctx context.Context, q storage.DBTX, owner uuid.UUID, key Key, forShare bool) (SavedResponse, error) {
	query := `SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE user_id = $1 AND idempotency_key = $2`
	if forShare {
		query += ` FOR SHARE`
	}

	var (
		status  *int16
		headers []byte
		body    []byte
	)
	err := q.QueryRow(ctx, query, owner, key.String()).Scan(&status, &headers, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return SavedResponse{}, ErrNotFound
	}
	if err != nil {
		return SavedResponse{}, fmt.Errorf("read idempotency record: %w", err)
	}
	if status == nil {
		return SavedResponse{}, ErrInProgress
	}

	pairs, err := decodeHeaders(headers)
	if err != nil {
		return SavedResponse{}, err
	}
	if body == nil {
		body = []byte{}
	}
	return SavedResponse{StatusCode: int(*status), Headers: pairs, Body: body}, nil
}

func encodeHeaders(h []HeaderPair) ([]byte, error) {
	if h == nil {
		h = []HeaderPair{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode response headers: %w", err)
	}
	return b, nil
}

func decodeHeaders(b []byte) ([]HeaderPair, error) {
	pairs := []HeaderPair{}
	if len(b) == 0 {
		return pairs, nil
	}
	if err := json.Unmarshal(b, &pairs); err != nil {
		return nil, fmt.Errorf("decode response headers: %w", err)
	}
	return pairs, nil
}
