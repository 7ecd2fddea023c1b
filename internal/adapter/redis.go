package adapter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

const channelSetPrefix = "trust-engine:channels:"

// Command types pushed to the protocol queue.
const (
	CommandDeviceDiscovery      = "device_discovery"
	CommandChannelCreation      = "channel_creation"
	CommandKeycloakGroupsSync   = "keycloak_groups_sync"
	CommandDestroyChannels      = "destroy_channels"
	CommandDestroyDeviceChannel = "destroy_device_channel"
	CommandDestroyAllChannels   = "destroy_all_channels"
)

// Command is one entry of the protocol queue.
type Command struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Owned     models.Identity `json:"owned"`
	Remote    models.Identity `json:"remote"`
	Device    *models.UID     `json:"device,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Envelope is a published notification.
type Envelope struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Owned     models.Identity `json:"owned"`
	Payload   map[string]any  `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// newID returns a time-ordered id, falling back to a random one.
func newID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v7.String()
}

// NewRedisClient connects to the redis server of cfg.
func NewRedisClient(ctx context.Context, cfg config.Adapter) (*redis.Client, error) {
	if cfg.RedisAddress == "" {
		return nil, ErrEmptyAddress
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisNotificationSink publishes notifications as JSON envelopes.
type RedisNotificationSink struct {
	rdb     RedisClient
	channel string
	logger  *logger.Logger
}

func NewRedisNotificationSink(rdb RedisClient, cfg config.Adapter, logger *logger.Logger) *RedisNotificationSink {
	return &RedisNotificationSink{rdb: rdb, channel: cfg.NotificationChannel, logger: logger}
}

func (n *RedisNotificationSink) Post(ctx context.Context, name string, owned models.Identity, payload map[string]any) error {
	msg, err := json.Marshal(Envelope{
		ID:        newID(),
		Name:      name,
		Owned:     owned,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err = n.rdb.Publish(ctx, n.channel, msg).Err(); err != nil {
		n.logger.Err(err).Str("func", "*RedisNotificationSink.Post").Str("name", name).Msg("error publishing notification")
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// RedisProtocolQueue pushes protocol triggers and channel commands to a
// redis list. It implements both [service.ProtocolTrigger] and
// [service.ChannelDelegate]; confirmed channels are read from the sets the
// channel subsystem maintains.
type RedisProtocolQueue struct {
	rdb    RedisClient
	queue  string
	logger *logger.Logger
}

func NewRedisProtocolQueue(rdb RedisClient, cfg config.Adapter, logger *logger.Logger) *RedisProtocolQueue {
	return &RedisProtocolQueue{rdb: rdb, queue: cfg.ProtocolQueue, logger: logger}
}

// channelSetKey names the set of confirmed channel devices of remote, as
// seen by owned.
func channelSetKey(owned, remote models.Identity) string {
	return channelSetPrefix + owned.String() + ":" + remote.String()
}

func (q *RedisProtocolQueue) push(ctx context.Context, cmd Command) error {
	cmd.ID = newID()
	cmd.CreatedAt = time.Now().UnixMilli()

	msg, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err = q.rdb.RPush(ctx, q.queue, msg).Err(); err != nil {
		q.logger.Err(err).Str("func", "*RedisProtocolQueue.push").Str("type", cmd.Type).Msg("error queueing command")
		return fmt.Errorf("queue %s: %w", cmd.Type, err)
	}
	return nil
}

func (q *RedisProtocolQueue) StartDeviceDiscovery(ctx context.Context, owned, remote models.Identity) error {
	return q.push(ctx, Command{Type: CommandDeviceDiscovery, Owned: owned, Remote: remote})
}

func (q *RedisProtocolQueue) StartChannelCreation(ctx context.Context, owned, remote models.Identity, device models.UID) error {
	return q.push(ctx, Command{Type: CommandChannelCreation, Owned: owned, Remote: remote, Device: &device})
}

func (q *RedisProtocolQueue) StartKeycloakGroupsSync(ctx context.Context, owned models.Identity) error {
	return q.push(ctx, Command{Type: CommandKeycloakGroupsSync, Owned: owned})
}

func (q *RedisProtocolQueue) ConfirmedChannelDevices(ctx context.Context, owned, remote models.Identity) ([]models.UID, error) {
	members, err := q.rdb.SMembers(ctx, channelSetKey(owned, remote)).Result()
	if err != nil {
		return nil, fmt.Errorf("read channel set: %w", err)
	}

	uids := make([]models.UID, 0, len(members))
	for _, m := range members {
		raw, err := hex.DecodeString(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedDevice, err)
		}
		uid, err := models.ParseUID(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedDevice, err)
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

func (q *RedisProtocolQueue) DestroyChannels(ctx context.Context, owned, remote models.Identity) error {
	if err := q.rdb.Del(ctx, channelSetKey(owned, remote)).Err(); err != nil {
		return fmt.Errorf("drop channel set: %w", err)
	}
	return q.push(ctx, Command{Type: CommandDestroyChannels, Owned: owned, Remote: remote})
}

func (q *RedisProtocolQueue) DestroyDeviceChannel(ctx context.Context, owned, remote models.Identity, device models.UID) error {
	if err := q.rdb.SRem(ctx, channelSetKey(owned, remote), device.String()).Err(); err != nil {
		return fmt.Errorf("drop channel device: %w", err)
	}
	return q.push(ctx, Command{Type: CommandDestroyDeviceChannel, Owned: owned, Remote: remote, Device: &device})
}

// DestroyAllChannels leaves the channel sets to the channel subsystem, which
// owns the keys of every remote.
func (q *RedisProtocolQueue) DestroyAllChannels(ctx context.Context, owned models.Identity) error {
	return q.push(ctx, Command{Type: CommandDestroyAllChannels, Owned: owned})
}
