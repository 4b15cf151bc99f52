package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Cache {
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Cache{
		"memory": NewMemory(time.Minute),
		"redis":  NewRedis(client, "docs", time.Minute),
	}
}

func TestCacheBackends(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, c.Set(ctx, "rev:a:1", []byte("payload"), 0))
			v, ok, err := c.Get(ctx, "rev:a:1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "payload", string(v))

			require.NoError(t, c.Delete(ctx, "rev:a:1"))
			_, ok, _ = c.Get(ctx, "rev:a:1")
			require.False(t, ok)

			for i := 0; i < 450; i++ {
				require.NoError(t, c.Set(ctx, fmt.Sprintf("filter:%d", i), []byte("p"), 0))
			}
			require.NoError(t, c.Set(ctx, "rev:b:1", []byte("keep"), 0))
			require.NoError(t, c.DeletePrefix(ctx, "filter:"))
			for _, k := range []string{"filter:0", "filter:199", "filter:449"} {
				_, ok, _ = c.Get(ctx, k)
				require.False(t, ok, k)
			}
			_, ok, _ = c.Get(ctx, "rev:b:1")
			require.True(t, ok)
			require.NoError(t, c.Ping(ctx))
		})
	}
}

func TestRedisTTL(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()

	c := NewRedis(client, "docs", time.Minute)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 2*time.Second))
	require.True(t, m.Exists("docs:k"))
	m.FastForward(3 * time.Second)
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewSelectsDriver(t *testing.T) {
	c, err := New(Config{Driver: "memory"}, nil)
	require.NoError(t, err)
	require.IsType(t, &Memory{}, c)

	c, err = New(Config{Driver: "none"}, nil)
	require.NoError(t, err)
	require.IsType(t, Nop{}, c)

	_, err = New(Config{Driver: "redis"}, nil)
	require.Error(t, err)
	_, err = New(Config{Driver: "memcached"}, nil)
	require.Error(t, err)
}

func TestInspector(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			insp := c.(Inspector)
			for _, k := range []string{"rev:b:1", "rev:a:2", "filter:0|x"} {
				require.NoError(t, c.Set(ctx, k, []byte("v"), 0))
			}
			keys, err := insp.Keys(ctx, "rev:")
			require.NoError(t, err)
			require.Equal(t, []string{"rev:a:2", "rev:b:1"}, keys)

			keys, err = insp.Keys(ctx, "nothing:")
			require.NoError(t, err)
			require.Empty(t, keys)

			ok, err := insp.Contains(ctx, "filter:0|x")
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = insp.Contains(ctx, "rev:zz:1")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}
