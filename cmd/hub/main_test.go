package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/config"
)

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("memory has no store", func(t *testing.T) {
		store, closeStore, err := openStore(config.StoreConfig{Driver: config.DriverMemory}, logger)
		require.NoError(t, err)
		assert.Nil(t, store)
		assert.NoError(t, closeStore())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, closeStore, err := openStore(config.StoreConfig{
			Driver:   config.DriverRedis,
			RedisURL: "redis://" + mr.Addr(),
			Instance: "test",
		}, logger)
		require.NoError(t, err)
		defer closeStore()
		assert.NoError(t, store.Ping(context.Background()))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, _, err := openStore(config.StoreConfig{Driver: config.DriverRedis, RedisURL: "redis://" + addr, Instance: "test"}, logger)
		assert.ErrorContains(t, err, "redis not accessible")
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, _, err := openStore(config.StoreConfig{Driver: config.DriverRedis, RedisURL: "::nope", Instance: "test"}, logger)
		assert.ErrorContains(t, err, "invalid store.redis_url")
	})

	t.Run("sqlite", func(t *testing.T) {
		store, closeStore, err := openStore(config.StoreConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "hub.db"),
		}, logger)
		require.NoError(t, err)
		defer closeStore()
		assert.NoError(t, store.Ping(context.Background()))
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := openStore(config.StoreConfig{Driver: "etcd"}, logger)
		assert.Error(t, err)
	})
}
