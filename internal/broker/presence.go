package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediconnect/consult-relay/internal/chat"
)

// Presence keeps, per instance, the set of identities with a live connection
// there. Each instance refreshes its set and its entry in the instance index
// on a heartbeat; a crashed instance's set expires after ttl.
type Presence struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
	prefix     string // set of online identities per instance
	instances  string // sorted set: instance id -> last heartbeat, unix ms
}

var _ chat.PresenceTracker = (*Presence)(nil)

// Presence returns the tracker for this instance. Run keeps it alive.
func (b *Broker) Presence(instanceID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	b.presence = &Presence{
		client:     b.client,
		instanceID: instanceID,
		ttl:        ttl,
		prefix:     b.channel + ":online:",
		instances:  b.channel + ":instances",
	}
	return b.presence
}

func (p *Presence) key(instanceID string) string { return p.prefix + instanceID }

func (p *Presence) Join(ctx context.Context, identityID string) (bool, error) {
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, p.key(p.instanceID), identityID)
	pipe.Expire(ctx, p.key(p.instanceID), p.ttl)
	pipe.ZAdd(ctx, p.instances, redis.Z{Score: float64(time.Now().UnixMilli()), Member: p.instanceID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("record presence: %w", err)
	}
	return p.OnlineElsewhere(ctx, identityID)
}

func (p *Presence) Leave(ctx context.Context, identityID string) (bool, error) {
	if err := p.client.SRem(ctx, p.key(p.instanceID), identityID).Err(); err != nil {
		return false, fmt.Errorf("clear presence: %w", err)
	}
	return p.OnlineElsewhere(ctx, identityID)
}

// OnlineElsewhere checks the sets of every instance that sent a heartbeat
// within ttl, except this one.
func (p *Presence) OnlineElsewhere(ctx context.Context, identityID string) (bool, error) {
	cutoff := time.Now().Add(-p.ttl).UnixMilli()
	peers, err := p.client.ZRangeByScore(ctx, p.instances, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return false, fmt.Errorf("list instances: %w", err)
	}

	pipe := p.client.Pipeline()
	checks := make([]*redis.BoolCmd, 0, len(peers))
	for _, peer := range peers {
		if peer == p.instanceID {
			continue
		}
		checks = append(checks, pipe.SIsMember(ctx, p.key(peer), identityID))
	}
	if len(checks) == 0 {
		return false, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	for _, c := range checks {
		if c.Val() {
			return true, nil
		}
	}
	return false, nil
}

func (p *Presence) run(ctx context.Context) error {
	tick := time.NewTicker(p.ttl / 3)
	defer tick.Stop()
	defer p.clear()
	for {
		if err := p.beat(ctx); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "presence heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (p *Presence) beat(ctx context.Context) error {
	now := time.Now()
	pipe := p.client.Pipeline()
	pipe.ZAdd(ctx, p.instances, redis.Z{Score: float64(now.UnixMilli()), Member: p.instanceID})
	// Drop instances that stopped beating.
	pipe.ZRemRangeByScore(ctx, p.instances, "-inf", "("+strconv.FormatInt(now.Add(-p.ttl).UnixMilli(), 10))
	pipe.Expire(ctx, p.key(p.instanceID), p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// clear withdraws this instance so its identities go offline immediately.
func (p *Presence) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := p.client.Pipeline()
	pipe.Del(ctx, p.key(p.instanceID))
	pipe.ZRem(ctx, p.instances, p.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "withdraw presence", "instance_id", p.instanceID, "error", err)
	}
}
