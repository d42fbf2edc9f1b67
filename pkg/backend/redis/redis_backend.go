package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// orderRecord is the stored form of an order; the insertion sequence is not
// part of the order's wire format.
type orderRecord struct {
	Sequence uint64      `json:"seq"`
	Order    *core.Order `json:"order"`
}

// RedisBackend implements OrderBookBackend interface with Redis storage.
//
// Layout under the prefix:
//
//	<prefix>:order:<orderId>  JSON order record
//	<prefix>:submissions      hash of submission id -> orderId
//	<prefix>:bids, :asks      sorted sets of orderId scored by price
//	<prefix>:seq              insertion sequence counter
type RedisBackend struct {
	client         *redis.Client
	ctx            context.Context
	prefix         string
	orderKeyPrefix string
	submissionsKey string
	bidsKey        string
	asksKey        string
	seqKey         string
	logger         *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:         client,
		ctx:            context.Background(),
		prefix:         prefix,
		orderKeyPrefix: fmt.Sprintf("%s:order:", prefix),
		submissionsKey: fmt.Sprintf("%s:submissions", prefix),
		bidsKey:        fmt.Sprintf("%s:bids", prefix),
		asksKey:        fmt.Sprintf("%s:asks", prefix),
		seqKey:         fmt.Sprintf("%s:seq", prefix),
		logger:         logger.With(zap.String("component", "redis_backend")),
	}
}

func (b *RedisBackend) getOrderKey(orderID string) string {
	return b.orderKeyPrefix + orderID
}

func (b *RedisBackend) getSideKey(side core.Side) string {
	if side == core.Buy {
		return b.bidsKey
	}
	return b.asksKey
}

func decodeRecord(data []byte) (*core.Order, error) {
	var rec orderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Order == nil {
		return nil, fmt.Errorf("empty order record")
	}
	rec.Order.SetSequence(rec.Sequence)
	return rec.Order, nil
}

func encodeRecord(order *core.Order) ([]byte, error) {
	return json.Marshal(orderRecord{Sequence: order.Sequence(), Order: order})
}

// GetOrder retrieves an order from Redis by its orderId
func (b *RedisBackend) GetOrder(orderID string) *core.Order {
	data, err := b.client.Get(b.ctx, b.getOrderKey(orderID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			b.logger.Error("failed to get order",
				zap.String("orderID", orderID),
				zap.Error(err))
		}
		return nil
	}

	order, err := decodeRecord(data)
	if err != nil {
		b.logger.Error("failed to unmarshal order",
			zap.String("orderID", orderID),
			zap.Error(err))
		return nil
	}
	return order
}

// HasSubmission reports whether the submission id is taken. A Redis error
// reads as not taken; StoreOrder re-checks atomically.
func (b *RedisBackend) HasSubmission(id string) bool {
	exists, err := b.client.HExists(b.ctx, b.submissionsKey, id).Result()
	if err != nil {
		b.logger.Error("failed to check submission id", zap.String("id", id), zap.Error(err))
		return false
	}
	return exists
}

// storeOrderScript claims the orderId and submission id and indexes the
// order in one step. It returns 0 when either id is already taken.
//
//	KEYS: order key, submissions hash, side sorted set
//	ARGV: submission id, orderId, record, price score
var storeOrderScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
return 1
`)

// StoreOrder stores an order in Redis and indexes it on its side. Both
// identifiers are checked inside the same atomic script that writes them.
func (b *RedisBackend) StoreOrder(order *core.Order) error {
	seq, err := b.client.Incr(b.ctx, b.seqKey).Result()
	if err != nil {
		return err
	}
	order.SetSequence(uint64(seq))

	data, err := encodeRecord(order)
	if err != nil {
		return err
	}

	keys := []string{b.getOrderKey(order.OrderID()), b.submissionsKey, b.getSideKey(order.Side())}
	stored, err := storeOrderScript.Run(b.ctx, b.client, keys,
		order.ID(),
		order.OrderID(),
		data,
		strconv.FormatFloat(order.Price().InexactFloat64(), 'f', -1, 64),
	).Int()
	if err != nil {
		b.logger.Error("failed to store order", zap.String("orderID", order.OrderID()), zap.Error(err))
		return err
	}
	if stored == 0 {
		return core.ErrDuplicateOrder
	}
	return nil
}

// UpdateOrder updates an existing order in Redis, re-indexing its side
func (b *RedisBackend) UpdateOrder(order *core.Order) error {
	existing := b.GetOrder(order.OrderID())
	if existing == nil {
		return core.ErrUnknownOrder
	}
	order.SetSequence(existing.Sequence())

	data, err := encodeRecord(order)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Set(b.ctx, b.getOrderKey(order.OrderID()), data, 0)
	if existing.Side() != order.Side() {
		pipe.ZRem(b.ctx, b.getSideKey(existing.Side()), order.OrderID())
	}
	pipe.ZAdd(b.ctx, b.getSideKey(order.Side()), redis.Z{
		Score:  order.Price().InexactFloat64(),
		Member: order.OrderID(),
	})
	if _, err := pipe.Exec(b.ctx); err != nil {
		b.logger.Error("failed to update order", zap.String("orderID", order.OrderID()), zap.Error(err))
		return err
	}
	return nil
}

// Orders returns every order on a side, best price first
func (b *RedisBackend) Orders(side core.Side) []*core.Order {
	ids, err := b.client.ZRange(b.ctx, b.getSideKey(side), 0, -1).Result()
	if err != nil {
		b.logger.Error("failed to read side", zap.String("side", side.String()), zap.Error(err))
		return nil
	}
	if len(ids) == 0 {
		return []*core.Order{}
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.getOrderKey(id)
	}
	values, err := b.client.MGet(b.ctx, keys...).Result()
	if err != nil {
		b.logger.Error("failed to load orders", zap.String("side", side.String()), zap.Error(err))
		return nil
	}

	orders := make([]*core.Order, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		order, err := decodeRecord([]byte(s))
		if err != nil {
			b.logger.Warn("skipping undecodable order", zap.String("orderID", ids[i]), zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}

	// scores are floats; settle exact ordering on the decimal prices
	core.SortOrders(side, orders)
	return orders
}

// Clear removes every key under the prefix
func (b *RedisBackend) Clear() error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(b.ctx, cursor, b.prefix+":*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(b.ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	b.logger.Info("cleared order book keys", zap.String("prefix", b.prefix))
	return nil
}
