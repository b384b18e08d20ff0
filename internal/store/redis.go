package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fishmarket/auction-engine/internal/model"
)

// RedisClient is the subset of redis.Client commands the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot query-side reads: game rules (immutable once created)
// and settlement history (append-only, one batch per day). Phase-state reads
// and everything transactional pass straight through — the day status drives
// the duplicate-transition guard and must never be stale.
type CachedStore struct {
	primary Store
	rdb     RedisClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb RedisClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRules(ctx context.Context, gameID string) (*model.GameRules, error) {
	data, err := s.rdb.Get(ctx, rulesKey(gameID)).Bytes()
	if err == nil {
		var r model.GameRules
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRules(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, rulesKey(gameID), data, s.ttl)
	}
	return r, nil
}

func (s *CachedStore) ListSettlements(ctx context.Context, gameID string, dayNumber int) ([]model.SettlementRecord, error) {
	key := settlementsKey(gameID, dayNumber)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var recs []model.SettlementRecord
		if json.Unmarshal(data, &recs) == nil {
			return recs, nil
		}
	}

	recs, err := s.primary.ListSettlements(ctx, gameID, dayNumber)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(recs); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return recs, nil
}

// --- Write-through (invalidate on settlement) ---

// WithTx passes through to the primary store, watching the pass for inserted
// settlement records. After a successful commit the settlement cache keys of
// the touched (game, day) pairs are dropped so history reads never serve the
// pre-settlement list.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	watch := &settlementWatch{seen: make(map[string]struct{})}
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, watch: watch})
	})
	if err != nil {
		return err
	}
	if len(watch.keys) > 0 {
		s.rdb.Del(ctx, watch.keys...)
	}
	return nil
}

// cachedTx passes every Tx operation through and records which settlement
// cache keys a committed pass makes stale.
type cachedTx struct {
	Tx
	watch *settlementWatch
}

func (t *cachedTx) InsertSettlementRecord(ctx context.Context, r *model.SettlementRecord) error {
	if err := t.Tx.InsertSettlementRecord(ctx, r); err != nil {
		return err
	}
	t.watch.add(settlementsKey(r.GameID, 0), settlementsKey(r.GameID, r.DayNumber))
	return nil
}

type settlementWatch struct {
	keys []string
	seen map[string]struct{}
}

func (w *settlementWatch) add(keys ...string) {
	for _, k := range keys {
		if _, ok := w.seen[k]; ok {
			continue
		}
		w.seen[k] = struct{}{}
		w.keys = append(w.keys, k)
	}
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateGame(ctx context.Context, g *model.Game, rules *model.GameRules, participants []model.Participant) error {
	return s.primary.CreateGame(ctx, g, rules, participants)
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	return s.primary.GetGame(ctx, id)
}

func (s *CachedStore) ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, gameID)
}

func (s *CachedStore) AdvanceGameDay(ctx context.Context, gameID string) (int, error) {
	return s.primary.AdvanceGameDay(ctx, gameID)
}

func (s *CachedStore) CreateTradingDay(ctx context.Context, d *model.TradingDay) error {
	return s.primary.CreateTradingDay(ctx, d)
}

func (s *CachedStore) GetTradingDay(ctx context.Context, id string) (*model.TradingDay, error) {
	return s.primary.GetTradingDay(ctx, id)
}

func (s *CachedStore) UpdateTradingDayStatus(ctx context.Context, id string, from, to model.DayStatus) error {
	return s.primary.UpdateTradingDayStatus(ctx, id, from, to)
}

func (s *CachedStore) ReplaceBid(ctx context.Context, b *model.Bid) error {
	return s.primary.ReplaceBid(ctx, b)
}

func (s *CachedStore) ListBids(ctx context.Context, dayID string, side model.BidSide) ([]model.Bid, error) {
	return s.primary.ListBids(ctx, dayID, side)
}

// --- Cache keys ---

func rulesKey(gameID string) string { return fmt.Sprintf("rules:%s", gameID) }

func settlementsKey(gameID string, dayNumber int) string {
	return fmt.Sprintf("settlements:%s:%d", gameID, dayNumber)
}
