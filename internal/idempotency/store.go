package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/models"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrHashMismatch = errors.New("idempotency key reused with a different request")
	ErrInProgress   = errors.New("idempotency key still in progress")
)

const (
	cachePrefix        = "escrow:idempotency:"
	defaultPoll        = 50 * time.Millisecond
	defaultWaitTimeout = 5 * time.Second
)

// Source says where a replayed response came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// Request identifies one mutating call under a caller-supplied key.
type Request struct {
	Key    string
	Hash   string
	Method string
	Path   string
}

// Response is a completed response kept for replay.
type Response struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`
	Source      Source `json:"-"`
}

// Store reserves keys in the primary store and replays finished responses.
// A Redis client, when present, caches finished responses for the key TTL.
type Store struct {
	queries     repository.Querier
	cache       redis.Cmdable
	ttl         time.Duration
	poll        time.Duration
	waitTimeout time.Duration
	now         func() time.Time
}

// NewStore builds a Store. cache may be nil.
func NewStore(cache redis.Cmdable, queries repository.Querier, ttl time.Duration) *Store {
	return &Store{
		queries:     queries,
		cache:       cache,
		ttl:         ttl,
		poll:        defaultPoll,
		waitTimeout: defaultWaitTimeout,
		now:         time.Now,
	}
}

// WithWait overrides how long Begin waits on a key held by a concurrent request.
func (s *Store) WithWait(poll, timeout time.Duration) *Store {
	s.poll = poll
	s.waitTimeout = timeout
	return s
}

// Begin either returns the stored response for req, or reserves the key and
// returns nil so the caller executes the request and then calls Complete.
// A key held by a concurrent request is waited on up to the wait timeout.
func (s *Store) Begin(ctx context.Context, req Request) (*Response, error) {
	if resp := s.cached(ctx, req.Key); resp != nil {
		if resp.Hash != req.Hash {
			return nil, ErrHashMismatch
		}
		return resp, nil
	}

	deadline := time.NewTimer(s.waitTimeout)
	defer deadline.Stop()
	for {
		resp, err := s.begin(ctx, req)
		if !errors.Is(err, ErrInProgress) {
			return resp, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrInProgress
		case <-time.After(s.poll):
		}
	}
}

func (s *Store) begin(ctx context.Context, req Request) (*Response, error) {
	_, err := s.queries.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: req.Key,
		RequestHash:    req.Hash,
		Method:         req.Method,
		Path:           req.Path,
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	row, err := s.queries.GetIdempotencyKey(ctx, req.Key)
	if errors.Is(err, pgx.ErrNoRows) {
		// released between the two calls; try to reserve again
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	if s.expired(row) {
		if err := s.queries.DeleteIdempotencyKey(ctx, row.IdempotencyKey, row.RequestHash); err != nil {
			return nil, fmt.Errorf("expire idempotency key: %w", err)
		}
		return nil, ErrInProgress
	}
	if row.RequestHash != req.Hash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	resp := responseFromRow(row)
	s.store(ctx, req.Key, resp)
	return &resp, nil
}

// Complete records the outcome of a reserved request. Server errors are not
// kept: the reservation is dropped so a retry with the same key runs again.
func (s *Store) Complete(ctx context.Context, req Request, resp Response) error {
	if resp.Status >= http.StatusInternalServerError {
		return s.Release(ctx, req)
	}
	row, err := s.queries.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(resp.Status),
		ResponseBody:   resp.Body,
		ContentType:    resp.ContentType,
		IdempotencyKey: req.Key,
		RequestHash:    req.Hash,
	})
	if err != nil {
		return fmt.Errorf("finalize idempotency key: %w", err)
	}
	s.store(ctx, req.Key, responseFromRow(row))
	return nil
}

// Release drops a reservation without recording a response.
func (s *Store) Release(ctx context.Context, req Request) error {
	if err := s.queries.DeleteIdempotencyKey(ctx, req.Key, req.Hash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *Store) expired(row models.IdempotencyRecord) bool {
	return s.ttl > 0 && !row.InProgress && s.now().Sub(row.CreatedAt) > s.ttl
}

func (s *Store) cached(ctx context.Context, key string) *Response {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("idempotency cache read failed", zap.Error(err))
		}
		return nil
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil
	}
	resp.Source = SourceCache
	return &resp
}

func (s *Store) store(ctx context.Context, key string, resp Response) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cachePrefix+key, raw, s.ttl).Err(); err != nil {
		zap.L().Warn("idempotency cache write failed", zap.Error(err))
	}
}

func responseFromRow(row models.IdempotencyRecord) Response {
	return Response{
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		Hash:        row.RequestHash,
		Source:      SourceStore,
	}
}
