// Package messaging provides the Redis Streams job queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"crm_server/core/port/out"
)

// Stream names
const (
	StreamClassify = "crm:classify"
	StreamDraft    = "crm:draft"
	StreamIngest   = "crm:ingest"
	StreamSend     = "crm:send"
)

// AllStreams lists every stream a worker consumes.
var AllStreams = []string{StreamClassify, StreamDraft, StreamIngest, StreamSend}

// RedisProducer implements out.MessageProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

func (p *RedisProducer) PublishClassify(ctx context.Context, job *out.ClassifyJob) error {
	return p.publish(ctx, StreamClassify, job)
}

func (p *RedisProducer) PublishDraft(ctx context.Context, job *out.DraftJob) error {
	return p.publish(ctx, StreamDraft, job)
}

func (p *RedisProducer) PublishIngest(ctx context.Context, job *out.IngestJob) error {
	return p.publish(ctx, StreamIngest, job)
}

func (p *RedisProducer) PublishSend(ctx context.Context, job *out.SendJob) error {
	return p.publish(ctx, StreamSend, job)
}

func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

var _ out.MessageProducer = (*RedisProducer)(nil)
