package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"robot-service/internal/logger"
	"robot-service/internal/types"

	"github.com/redis/go-redis/v9"
)

type Callbacks struct {
	ControlCallback func(string) error // "start", "stop"
	ResetCallback   func(string) error // "all", "filters", "rotary", "avoidance"
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetCallbacks installs the command handlers. Must be called before
// StartListening.
func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts all Redis listeners after system initialization is complete
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	// Pub/sub mirrors the list commands for clients that prefer publish
	pubsub := r.client.Subscribe(r.ctx, "robot:control", "robot:reset")
	r.logger.Infof("Subscribed to Redis channels: robot:control, robot:reset")

	r.wg.Add(1)
	go r.redisListener(pubsub)

	// List command listeners for LPUSH commands
	r.wg.Add(2)
	go r.listCommandListener("robot:control", r.handleControlCommand)
	go r.listCommandListener("robot:reset", r.handleResetCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					// Timeout elapsed, loop back to check context
					continue
				}
				if err == context.Canceled {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Infof("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleControlCommand(value string) error {
	if r.callbacks.ControlCallback == nil {
		return nil
	}
	switch value {
	case "start", "stop":
		return r.callbacks.ControlCallback(value)
	default:
		r.logger.Infof("Invalid control command value: %s", value)
		return fmt.Errorf("invalid control command: %s", value)
	}
}

func (r *RedisClient) handleResetCommand(value string) error {
	if r.callbacks.ResetCallback == nil {
		return nil
	}
	switch value {
	case "all", "filters", "rotary", "avoidance":
		return r.callbacks.ResetCallback(value)
	default:
		r.logger.Infof("Invalid reset command value: %s", value)
		return fmt.Errorf("invalid reset command: %s", value)
	}
}

func (r *RedisClient) redisListener(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	r.logger.Infof("Starting Redis message listener")
	channel := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting listener")
			return
		case msg, ok := <-channel:
			if !ok {
				r.logger.Infof("Redis channel closed unexpectedly")
				r.logger.Fatalf("Redis connection lost, exiting to allow systemd restart")
			}
			if msg == nil {
				r.logger.Infof("Received nil Redis message")
				r.logger.Fatalf("Redis connection lost, exiting to allow systemd restart")
			}

			r.logger.Debugf("Received Redis message: channel=%s payload=%s", msg.Channel, msg.Payload)

			var err error
			switch msg.Channel {
			case "robot:control":
				err = r.handleControlCommand(msg.Payload)
			case "robot:reset":
				err = r.handleResetCommand(msg.Payload)
			}
			if err != nil {
				r.logger.Warnf("Error handling %s message: %v", msg.Channel, err)
			}
		}
	}
}

// publishHashSet is a helper that atomically sets a hash field and publishes a notification
func (r *RedisClient) publishHashSet(hash, field string, value interface{}, channel, payload string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, field, value)
	pipe.Publish(r.ctx, channel, payload)
	_, err := pipe.Exec(r.ctx)
	return err
}

func (r *RedisClient) PublishMode(mode types.Mode) error {
	r.logger.Infof("Publishing robot mode: %s", mode)
	timestamp := time.Now().Format(time.RFC3339)

	// Atomically set both mode and timestamp fields
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "robot", "mode", string(mode))
	pipe.HSet(r.ctx, "robot", "mode:timestamp", timestamp)
	pipe.Publish(r.ctx, "robot", "mode")
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish robot mode: %v", err)
		return err
	}
	r.logger.Debugf("Successfully published robot mode with timestamp: %s", timestamp)
	return nil
}

// PublishDecision exposes the fused motor command for dashboards and debugging.
func (r *RedisClient) PublishDecision(cmd types.Command) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "robot", "decision:action", cmd.Action.String())
	pipe.HSet(r.ctx, "robot", "decision:speed", cmd.Speed)
	pipe.HSet(r.ctx, "robot", "decision:source", cmd.Source)
	pipe.HSet(r.ctx, "robot", "decision:reason", cmd.Reason)
	pipe.HSet(r.ctx, "robot", "decision:confidence", fmt.Sprintf("%.2f", cmd.Confidence))
	pipe.Publish(r.ctx, "robot", "decision")
	_, err := pipe.Exec(r.ctx)
	if err != nil {
		r.logger.Warnf("Failed to publish decision: %v", err)
	}
	return err
}

func (r *RedisClient) SetLineState(line types.FilteredLineReading) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "robot", "line:position", line.Position().String())
	pipe.HSet(r.ctx, "robot", "line:confidence", fmt.Sprintf("%.2f", line.Confidence))
	pipe.Publish(r.ctx, "robot", "line")
	_, err := pipe.Exec(r.ctx)
	return err
}

func (r *RedisClient) SetDistanceState(dist types.FilteredDistance) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "robot", "distance:cm", fmt.Sprintf("%.1f", dist.DistanceCm))
	pipe.HSet(r.ctx, "robot", "distance:valid", fmt.Sprintf("%t", dist.Valid))
	pipe.Publish(r.ctx, "robot", "distance")
	_, err := pipe.Exec(r.ctx)
	return err
}

func (r *RedisClient) SetRotaryState(state string) error {
	r.logger.Debugf("Setting rotary state: %s", state)
	return r.publishHashSet("robot", "rotary:state", state, "robot", "rotary")
}

func (r *RedisClient) SetAvoidanceState(phase, strategy string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "robot", "avoidance:phase", phase)
	pipe.HSet(r.ctx, "robot", "avoidance:strategy", strategy)
	pipe.Publish(r.ctx, "robot", "avoidance")
	_, err := pipe.Exec(r.ctx)
	return err
}

func (r *RedisClient) SetSensorHealth(sensor string, healthy bool) error {
	r.logger.Debugf("Setting sensor health: %s=%t", sensor, healthy)
	return r.publishHashSet("robot", "health:"+sensor, fmt.Sprintf("%t", healthy), "robot", "health")
}

// ReportFaultPresent reports a fault as present to Redis
func (r *RedisClient) ReportFaultPresent(code int, description string, timestamp int64, info string) error {
	r.logger.Infof("Reporting fault present: code=%d, description=%s", code, description)

	pipe := r.client.Pipeline()

	// Add fault code to active faults set
	pipe.SAdd(r.ctx, "robot:fault", code)

	// Add fault event to global event stream with metadata
	eventData := map[string]interface{}{
		"group":       "robot",
		"code":        code,
		"description": description,
		"ts":          timestamp,
	}
	if info != "" {
		eventData["info"] = info
	}
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: "events:faults",
		MaxLen: 1000,
		Values: eventData,
	})

	// Publish notification
	pipe.Publish(r.ctx, "robot", "fault")

	_, err := pipe.Exec(r.ctx)
	if err != nil {
		r.logger.Infof("Failed to report fault present: %v", err)
		return err
	}

	r.logger.Infof("Successfully reported fault %d as present", code)
	return nil
}

// ReportFaultAbsent reports a fault as absent (cleared) to Redis
func (r *RedisClient) ReportFaultAbsent(code int) error {
	r.logger.Infof("Reporting fault absent: code=%d", code)

	pipe := r.client.Pipeline()

	// Remove fault code from active faults set
	pipe.SRem(r.ctx, "robot:fault", code)

	// Add clear event to global event stream (negative code indicates cleared)
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: "events:faults",
		MaxLen: 1000,
		Values: map[string]interface{}{
			"group": "robot",
			"code":  -code, // Negative code indicates fault cleared
		},
	})

	// Publish notification
	pipe.Publish(r.ctx, "robot", "fault")

	_, err := pipe.Exec(r.ctx)
	if err != nil {
		r.logger.Infof("Failed to report fault absent: %v", err)
		return err
	}

	r.logger.Infof("Successfully reported fault %d as absent", code)
	return nil
}

// GetHashField reads a field from a Redis hash using HGET
func (r *RedisClient) GetHashField(hash, field string) (string, error) {
	value, err := r.client.HGet(r.ctx, hash, field).Result()
	if err == redis.Nil {
		// Field doesn't exist, return empty string
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get hash field %s from %s: %w", field, hash, err)
	}
	return value, nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
