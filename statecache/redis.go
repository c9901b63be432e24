// Package statecache mirrors the latest entity statuses and per-adapter
// flush state into Redis for dashboards and other instances.
package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wwcpsync/domain"
)

// EntityState is the cached status of one entity.
type EntityState struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	Status      string    `json:"status,omitempty"`
	AdminStatus string    `json:"admin_status,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	TrackingID  string    `json:"tracking_id,omitempty"`
}

// CycleState is the cached outcome of an adapter's last flush of one cycle.
type CycleState struct {
	AdapterID  string    `json:"adapter_id"`
	Cycle      string    `json:"cycle"`
	RunID      uint64    `json:"run_id"`
	State      string    `json:"state"`
	FinishedAt time.Time `json:"finished_at"`
	Runtime    string    `json:"runtime"`
	Error      string    `json:"error,omitempty"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "wwcp"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) entityKey(kind domain.EntityKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, domain.NormalizeKey(id))
}

func (r *RedisStore) entityIndexKey(kind domain.EntityKind) string {
	return fmt.Sprintf("%s:%s:index", r.prefix, kind)
}

func (r *RedisStore) cycleKey(adapterID string) string {
	return fmt.Sprintf("%s:adapter:%s:cycles", r.prefix, adapterID)
}

func (r *RedisStore) depthKey(adapterID string) string {
	return fmt.Sprintf("%s:adapter:%s:depths", r.prefix, adapterID)
}

func (r *RedisStore) adaptersKey() string {
	return r.prefix + ":adapters"
}

// SetStatus merges the non-empty status fields of s into the cached state.
func (r *RedisStore) SetStatus(ctx context.Context, kind domain.EntityKind, s EntityState) error {
	prev, err := r.GetStatus(ctx, kind, s.ID)
	if err != nil {
		return err
	}
	if prev != nil {
		if s.Status == "" {
			s.Status = prev.Status
		}
		if s.AdminStatus == "" {
			s.AdminStatus = prev.AdminStatus
		}
	}
	s.Kind = kind.String()
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.entityKey(kind, s.ID), data, 0)
	pipe.SAdd(ctx, r.entityIndexKey(kind), domain.NormalizeKey(s.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// GetStatus returns nil, nil when nothing is cached for the entity.
func (r *RedisStore) GetStatus(ctx context.Context, kind domain.EntityKind, id string) (*EntityState, error) {
	data, err := r.client.Get(ctx, r.entityKey(kind, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s EntityState
	return &s, json.Unmarshal(data, &s)
}

func (r *RedisStore) ListStatuses(ctx context.Context, kind domain.EntityKind) ([]EntityState, error) {
	keys, err := r.client.SMembers(ctx, r.entityIndexKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]EntityState, 0, len(keys))
	for _, k := range keys {
		s, err := r.GetStatus(ctx, kind, k)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *RedisStore) RemoveStatus(ctx context.Context, kind domain.EntityKind, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.entityKey(kind, id))
	pipe.SRem(ctx, r.entityIndexKey(kind), domain.NormalizeKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) SetCycle(ctx context.Context, c CycleState) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.cycleKey(c.AdapterID), c.Cycle, data)
	pipe.SAdd(ctx, r.adaptersKey(), c.AdapterID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetCycles returns the last cached state of every cycle of an adapter.
func (r *RedisStore) GetCycles(ctx context.Context, adapterID string) (map[string]CycleState, error) {
	raw, err := r.client.HGetAll(ctx, r.cycleKey(adapterID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]CycleState, len(raw))
	for cycle, v := range raw {
		var c CycleState
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("decode cycle %s of %s: %w", cycle, adapterID, err)
		}
		out[cycle] = c
	}
	return out, nil
}

// SetQueueDepths stores the pending counts of an adapter keyed by entity kind.
func (r *RedisStore) SetQueueDepths(ctx context.Context, adapterID string, depths map[string]int) error {
	if len(depths) == 0 {
		return nil
	}
	values := make(map[string]any, len(depths))
	for k, v := range depths {
		values[k] = v
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.depthKey(adapterID), values)
	pipe.SAdd(ctx, r.adaptersKey(), adapterID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetQueueDepths(ctx context.Context, adapterID string) (map[string]int, error) {
	raw, err := r.client.HGetAll(ctx, r.depthKey(adapterID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func (r *RedisStore) AdapterIDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, r.adaptersKey()).Result()
}

func (r *RedisStore) RemoveAdapter(ctx context.Context, adapterID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.cycleKey(adapterID), r.depthKey(adapterID))
	pipe.SRem(ctx, r.adaptersKey(), adapterID)
	_, err := pipe.Exec(ctx)
	return err
}

// FlushAll removes every key written under the prefix.
func (r *RedisStore) FlushAll(ctx context.Context) error {
	ids, err := r.AdapterIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.RemoveAdapter(ctx, id); err != nil {
			return err
		}
	}
	for _, kind := range []domain.EntityKind{domain.KindRoamingNetwork, domain.KindOperator, domain.KindPool, domain.KindStation, domain.KindEVSE} {
		keys, err := r.client.SMembers(ctx, r.entityIndexKey(kind)).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := r.RemoveStatus(ctx, kind, k); err != nil {
				return err
			}
		}
		if err := r.client.Del(ctx, r.entityIndexKey(kind)).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, r.adaptersKey()).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
