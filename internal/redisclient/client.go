package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"pos-service/internal/models"
)

//go:embed scripts/set_stock.lua
var setStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// stockTTL bounds how long a mirrored stock entry is trusted.
const stockTTL = 10 * time.Minute

type Client struct {
	rdb           *redis.Client
	stockScript   *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		stockScript:   redis.NewScript(setStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(account models.AccountID, productID string) string {
	return "stock:" + models.ProductPath(account, productID)
}

func idempotencyKey(account models.AccountID, key string) string {
	return fmt.Sprintf("idempotency:%s/%s", models.AccountPath(account), key)
}

func lockKey(account models.AccountID) string {
	return "lock:" + models.AccountPath(account)
}

func cartChannel(account models.AccountID) string {
	return "cart:" + models.PendingPath(account)
}

// SetStock mirrors a product's quantity. Older versions never overwrite newer ones.
func (c *Client) SetStock(ctx context.Context, account models.AccountID, productID string, quantity int, version int64) error {
	_, err := c.stockScript.Run(ctx, c.rdb,
		[]string{stockKey(account, productID)},
		quantity, version, int(stockTTL.Seconds()),
	).Result()
	if err != nil {
		return fmt.Errorf("set stock script failed: %w", err)
	}
	return nil
}

// GetStock returns the mirrored quantity. ok is false when nothing is cached.
func (c *Client) GetStock(ctx context.Context, account models.AccountID, productID string) (quantity int, ok bool, err error) {
	val, err := c.rdb.HGet(ctx, stockKey(account, productID), "quantity").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	quantity, err = strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock entry: %w", err)
	}
	return quantity, true, nil
}

// InvalidateStock drops the mirrored entry
func (c *Client) InvalidateStock(ctx context.Context, account models.AccountID, productID string) error {
	return c.rdb.Del(ctx, stockKey(account, productID)).Err()
}

// SetIdempotencyKey remembers which sale a client key produced
func (c *Client) SetIdempotencyKey(ctx context.Context, account models.AccountID, key, saleID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(account, key), saleID, ttl).Err()
}

// GetIdempotentSaleID returns the sale id stored for key, or "" if unknown.
func (c *Client) GetIdempotentSaleID(ctx context.Context, account models.AccountID, key string) (string, error) {
	saleID, err := c.rdb.Get(ctx, idempotencyKey(account, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return saleID, err
}

// AcquireLock takes the account lock for ttl if it is free.
func (c *Client) AcquireLock(ctx context.Context, account models.AccountID, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockKey(account), token, ttl).Result()
}

// ReleaseLock deletes the account lock only if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, account models.AccountID, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(account)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// PublishCartChange notifies cart subscribers of the account.
func (c *Client) PublishCartChange(ctx context.Context, account models.AccountID, payload []byte) error {
	return c.rdb.Publish(ctx, cartChannel(account), payload).Err()
}

// SubscribeCart streams cart change payloads until ctx is done.
func (c *Client) SubscribeCart(ctx context.Context, account models.AccountID) (<-chan []byte, error) {
	sub := c.rdb.Subscribe(ctx, cartChannel(account))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
