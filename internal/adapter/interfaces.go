// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package adapter implements the external collaborators of the trust engine.
//
// Notifications, protocol triggers and channel bookkeeping go through redis:
// notifications are PUBLISHed on a channel, protocol triggers and channel
// commands are pushed to a list consumed by the orchestration layer, and the
// orchestration layer keeps the confirmed channels of every contact in a set.
// Keycloak key sets are fetched over HTTP with resty.
//
// Error values defined in errors.go are mapped from HTTP status codes by
// mapHTTPError so that callers can use [errors.Is].
package adapter

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis command set the adapters use.
// *redis.Client and *redis.ClusterClient implement it.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}
