package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

type StreamsConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	RetryBase   time.Duration
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams. Failed
// messages are requeued with exponential delay up to MaxAttempts, then moved
// to the DLQ stream.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	retryBase   time.Duration
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "forensics_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "forensics_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "forensics_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}

	q := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
	}
	// A broker that is down right now is not fatal: the consume loop
	// re-ensures the group and submissions check availability first.
	_ = q.ensureGroup(ctx)
	return q, nil
}

func (q *StreamsQueue) MaxAttempts() int {
	return q.maxAttempts
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: streamValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				message, parseErr := parseStreamMessage(item)
				if parseErr != nil {
					_ = q.sendToDLQ(ctx, domain.QueueMessage{}, item, parseErr.Error())
					_ = q.ackAndDelete(ctx, item.ID)
					continue
				}

				handleErr := handler(ctx, message)
				if handleErr == nil {
					_ = q.ackAndDelete(ctx, item.ID)
					continue
				}

				message.Attempt++
				if message.Attempt >= q.maxAttempts {
					_ = q.sendToDLQ(ctx, message, item, handleErr.Error())
					_ = q.ackAndDelete(ctx, item.ID)
					continue
				}

				q.requeueLater(ctx, message)
				_ = q.ackAndDelete(ctx, item.ID)
			}
		}
	}
}

// requeueLater re-adds the message after an exponential backoff delay
// (base doubling per attempt) without blocking the consume loop.
func (q *StreamsQueue) requeueLater(ctx context.Context, message domain.QueueMessage) {
	delay := q.retryBase << (message.Attempt - 1)
	toDLQ := func(dlqCtx context.Context, pending domain.QueueMessage, reason string) {
		_ = q.sendToDLQ(dlqCtx, pending, redis.XMessage{}, reason)
	}
	go retryAfterDelay(ctx, delay, message, q.Enqueue, toDLQ)
}

// retryAfterDelay waits out the backoff, then re-adds the message. The
// original stream entry is already acked by the time this runs, so the
// pending retry is the only copy of the work: a shutdown during the wait
// flushes it to the stream right away on a detached context instead of
// dropping it, and a failed re-add lands in the DLQ either way.
func retryAfterDelay(
	ctx context.Context,
	delay time.Duration,
	message domain.QueueMessage,
	enqueue func(context.Context, domain.QueueMessage) error,
	toDLQ func(context.Context, domain.QueueMessage, string),
) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := enqueue(flushCtx, message); err != nil {
			toDLQ(flushCtx, message, fmt.Sprintf("requeue on shutdown failed: %v", err))
		}
	case <-timer.C:
		if err := enqueue(ctx, message); err != nil {
			toDLQ(ctx, message, fmt.Sprintf("requeue failed: %v", err))
		}
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.QueueMessage,
	item redis.XMessage,
	errorMessage string,
) error {
	values := streamValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func streamValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":       message.JobID,
		"type":         string(message.Type),
		"payload":      string(message.Payload),
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	typeValue, err := getString("type")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	payloadString, err := getString("payload")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}
	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	return domain.QueueMessage{
		JobID:       jobID,
		Type:        domain.JobType(typeValue),
		Payload:     []byte(payloadString),
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, nil
}
