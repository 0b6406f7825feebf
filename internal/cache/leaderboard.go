package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultLeaderboardKey 经验排行榜使用的有序集合
const DefaultLeaderboardKey = "agora:leaderboard:experience"

// Entry 是排行榜中的一项
type Entry struct {
	UserID uint
	Score  int64
}

// Leaderboard 用 Redis 有序集合维护按经验排序的用户榜单
type Leaderboard struct {
	client redis.UniversalClient
	key    string
}

// NewLeaderboard 构造榜单，key 为空时使用默认值
func NewLeaderboard(client redis.UniversalClient, key string) *Leaderboard {
	if key == "" {
		key = DefaultLeaderboardKey
	}
	return &Leaderboard{client: client, key: key}
}

// NewClient 按地址创建 Redis 客户端并验证连通性
func NewClient(ctx context.Context, addr, password string, dbIndex int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: dbIndex})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Update 写入用户当前经验值（覆盖旧值）
func (l *Leaderboard) Update(ctx context.Context, userID uint, experience int64) error {
	member := strconv.FormatUint(uint64(userID), 10)
	if err := l.client.ZAdd(ctx, l.key, redis.Z{Score: float64(experience), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd leaderboard: %w", err)
	}
	return nil
}

// Remove 从榜单移除用户
func (l *Leaderboard) Remove(ctx context.Context, userID uint) error {
	member := strconv.FormatUint(uint64(userID), 10)
	return l.client.ZRem(ctx, l.key, member).Err()
}

// Top 返回经验最高的 limit 个用户
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	zs, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange leaderboard: %w", err)
	}

	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{UserID: uint(id), Score: int64(z.Score)})
	}
	return entries, nil
}

// Rank 返回用户的名次（从 1 开始），不在榜单中时 ok=false
func (l *Leaderboard) Rank(ctx context.Context, userID uint) (rank int64, ok bool, err error) {
	member := strconv.FormatUint(uint64(userID), 10)
	r, err := l.client.ZRevRank(ctx, l.key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("zrevrank leaderboard: %w", err)
	}
	return r + 1, true, nil
}

// Reset 用完整数据重建榜单
func (l *Leaderboard) Reset(ctx context.Context, entries []Entry) error {
	pipe := l.client.TxPipeline()
	pipe.Del(ctx, l.key)
	if len(entries) > 0 {
		zs := make([]redis.Z, 0, len(entries))
		for _, e := range entries {
			zs = append(zs, redis.Z{Score: float64(e.Score), Member: strconv.FormatUint(uint64(e.UserID), 10)})
		}
		pipe.ZAdd(ctx, l.key, zs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	return nil
}
