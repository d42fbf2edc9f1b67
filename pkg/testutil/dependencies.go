package testutil

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// Environment variables that point integration tests at live dependencies
const (
	RedisAddrEnv = "ORDERDESK_TEST_REDIS_ADDR"
	KafkaAddrEnv = "ORDERDESK_TEST_KAFKA_ADDR"
)

// RedisAddr returns the Redis address used by integration tests
func RedisAddr() string {
	if addr := os.Getenv(RedisAddrEnv); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// KafkaAddr returns the Kafka broker address used by integration tests
func KafkaAddr() string {
	if addr := os.Getenv(KafkaAddrEnv); addr != "" {
		return addr
	}
	return "localhost:9092"
}

// SkipIfRedisUnavailable skips the test if Redis is unavailable on the specified address
func SkipIfRedisUnavailable(t *testing.T, redisAddr string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	defer client.Close()

	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skipf("Skipping test: Redis not available at %s - %v", redisAddr, err)
	}
}

// SkipIfKafkaUnavailable skips the test if Kafka is unavailable on the specified address
func SkipIfKafkaUnavailable(t *testing.T, kafkaAddr string) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", kafkaAddr, 2*time.Second)
	if err != nil {
		t.Skipf("Skipping test: Kafka not available at %s - %v", kafkaAddr, err)
		return
	}
	_ = conn.Close()

	// a broker that accepts TCP must also answer a metadata request
	kconn, err := kafka.Dial("tcp", kafkaAddr)
	if err != nil {
		t.Skipf("Skipping test: Kafka at %s is not responding correctly - %v", kafkaAddr, err)
		return
	}
	defer kconn.Close()

	_ = kconn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := kconn.Brokers(); err != nil && !errors.Is(err, io.EOF) {
		t.Skipf("Skipping test: Kafka at %s is not responding correctly - %v", kafkaAddr, err)
	}
}

// Dec parses a decimal literal and panics on malformed input. Test use only.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
