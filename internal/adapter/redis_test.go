package adapter

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/models"
)

// fakeRedis keeps published messages, lists and sets in memory.
type fakeRedis struct {
	published map[string][]string
	lists     map[string][]string
	sets      map[string]map[string]struct{}
	err       error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: make(map[string][]string),
		lists:     make(map[string][]string),
		sets:      make(map[string]map[string]struct{}),
	}
}

func asString(v any) string {
	switch m := v.(type) {
	case []byte:
		return string(m)
	case string:
		return m
	default:
		b, _ := json.Marshal(m)
		return string(b)
	}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.published[channel] = append(f.published[channel], asString(message))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) RPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, v := range values {
		f.lists[key] = append(f.lists[key], asString(v))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) SRem(_ context.Context, key string, members ...any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, m := range members {
		if _, ok := f.sets[key][asString(m)]; ok {
			delete(f.sets[key], asString(m))
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) addToSet(key string, members ...string) {
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		f.sets[key][m] = struct{}{}
	}
}

var testAdapterConfig = config.Adapter{
	NotificationChannel: "test:notifications",
	ProtocolQueue:       "test:protocols",
}

func testIdentity(t *testing.T) models.Identity {
	t.Helper()

	id := models.Identity{Server: "https://server.example"}
	_, err := rand.Read(id.SignKey[:])
	require.NoError(t, err)
	_, err = rand.Read(id.EncKey[:])
	require.NoError(t, err)
	return id
}

func testUID(t *testing.T) models.UID {
	t.Helper()

	uid, err := models.NewUID()
	require.NoError(t, err)
	return uid
}

func TestRedisNotificationSink_Post(t *testing.T) {
	rdb := newFakeRedis()
	sink := NewRedisNotificationSink(rdb, testAdapterConfig, logger.Nop())
	owned := testIdentity(t)

	require.NoError(t, sink.Post(context.Background(), "contact_added", owned, map[string]any{"contact": "bob"}))

	require.Len(t, rdb.published[testAdapterConfig.NotificationChannel], 1)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(rdb.published[testAdapterConfig.NotificationChannel][0]), &env))
	assert.Equal(t, "contact_added", env.Name)
	assert.Equal(t, owned, env.Owned)
	assert.Equal(t, map[string]any{"contact": "bob"}, env.Payload)
	assert.NotZero(t, env.Timestamp)

	id, err := uuid.Parse(env.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestRedisNotificationSink_PostError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	sink := NewRedisNotificationSink(rdb, testAdapterConfig, logger.Nop())

	err := sink.Post(context.Background(), "contact_added", testIdentity(t), nil)
	require.ErrorIs(t, err, rdb.err)
}

func TestRedisProtocolQueue_Commands(t *testing.T) {
	ctx := context.Background()
	owned, remote := testIdentity(t), testIdentity(t)
	device := testUID(t)

	tests := []struct {
		name       string
		call       func(q *RedisProtocolQueue) error
		wantType   string
		wantRemote models.Identity
		wantDevice *models.UID
	}{
		{
			name:       "device discovery",
			call:       func(q *RedisProtocolQueue) error { return q.StartDeviceDiscovery(ctx, owned, remote) },
			wantType:   CommandDeviceDiscovery,
			wantRemote: remote,
		},
		{
			name:       "channel creation",
			call:       func(q *RedisProtocolQueue) error { return q.StartChannelCreation(ctx, owned, remote, device) },
			wantType:   CommandChannelCreation,
			wantRemote: remote,
			wantDevice: &device,
		},
		{
			name:     "keycloak groups sync",
			call:     func(q *RedisProtocolQueue) error { return q.StartKeycloakGroupsSync(ctx, owned) },
			wantType: CommandKeycloakGroupsSync,
		},
		{
			name:     "destroy all channels",
			call:     func(q *RedisProtocolQueue) error { return q.DestroyAllChannels(ctx, owned) },
			wantType: CommandDestroyAllChannels,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rdb := newFakeRedis()
			q := NewRedisProtocolQueue(rdb, testAdapterConfig, logger.Nop())

			require.NoError(t, tt.call(q))

			require.Len(t, rdb.lists[testAdapterConfig.ProtocolQueue], 1)
			var cmd Command
			require.NoError(t, json.Unmarshal([]byte(rdb.lists[testAdapterConfig.ProtocolQueue][0]), &cmd))
			assert.Equal(t, tt.wantType, cmd.Type)
			assert.Equal(t, owned, cmd.Owned)
			assert.Equal(t, tt.wantRemote, cmd.Remote)
			assert.Equal(t, tt.wantDevice, cmd.Device)
			assert.NotEmpty(t, cmd.ID)
		})
	}
}

func TestRedisProtocolQueue_ChannelSets(t *testing.T) {
	ctx := context.Background()
	owned, remote := testIdentity(t), testIdentity(t)
	first, second := testUID(t), testUID(t)
	key := channelSetKey(owned, remote)

	rdb := newFakeRedis()
	q := NewRedisProtocolQueue(rdb, testAdapterConfig, logger.Nop())
	rdb.addToSet(key, first.String(), second.String())

	devices, err := q.ConfirmedChannelDevices(ctx, owned, remote)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.UID{first, second}, devices)

	require.NoError(t, q.DestroyDeviceChannel(ctx, owned, remote, first))
	devices, err = q.ConfirmedChannelDevices(ctx, owned, remote)
	require.NoError(t, err)
	assert.Equal(t, []models.UID{second}, devices)

	require.NoError(t, q.DestroyChannels(ctx, owned, remote))
	devices, err = q.ConfirmedChannelDevices(ctx, owned, remote)
	require.NoError(t, err)
	assert.Empty(t, devices)

	queued := rdb.lists[testAdapterConfig.ProtocolQueue]
	require.Len(t, queued, 2)
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &cmd))
	assert.Equal(t, CommandDestroyDeviceChannel, cmd.Type)
	require.NoError(t, json.Unmarshal([]byte(queued[1]), &cmd))
	assert.Equal(t, CommandDestroyChannels, cmd.Type)

	rdb.addToSet(key, "not-hex")
	_, err = q.ConfirmedChannelDevices(ctx, owned, remote)
	require.ErrorIs(t, err, ErrMalformedDevice)
}
