package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())

	reg.Register("zeta", okBuilder)
	reg.RegisterWithCapabilities("Alpha", okBuilder, Capabilities{Name: "alpha", SupportsNack: true})

	assert.True(t, reg.Has("zeta"))
	assert.True(t, reg.Has("ALPHA"), "lookups ignore case")
	assert.False(t, reg.Has("other"))
	assert.Equal(t, []string{"alpha", "zeta"}, reg.Names())

	assert.True(t, reg.GetCapabilities("alpha").SupportsNack)
	unknown := reg.GetCapabilities("missing")
	assert.Equal(t, "missing", unknown.Name)
	assert.False(t, unknown.SupportsAck)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memory", okBuilder)

	t.Run("known transport", func(t *testing.T) {
		tr, err := reg.Build(context.Background(), &StaticConfig{PubSubSystem: " Memory "}, nil)
		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := reg.Build(context.Background(), nil, nil)
		assert.ErrorContains(t, err, "config is required")
	})

	t.Run("unknown transport lists registered ones", func(t *testing.T) {
		_, err := reg.Build(context.Background(), &StaticConfig{PubSubSystem: "carrier-pigeon"}, nil)
		assert.ErrorContains(t, err, `unknown transport: "carrier-pigeon"`)
		assert.ErrorContains(t, err, "memory")
	})

	t.Run("builder error is returned as is", func(t *testing.T) {
		boom := errors.New("builder error")
		reg.Register("failing", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
			return Transport{}, boom
		})
		_, err := reg.Build(context.Background(), &StaticConfig{PubSubSystem: "failing"}, watermill.NopLogger{})
		assert.Same(t, boom, err)
	})

	t.Run("nil logger replaced", func(t *testing.T) {
		var got watermill.LoggerAdapter
		reg.Register("logged", func(_ context.Context, _ Config, logger watermill.LoggerAdapter) (Transport, error) {
			got = logger
			return Transport{}, nil
		})
		_, err := reg.Build(context.Background(), &StaticConfig{PubSubSystem: "logged"}, nil)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegistry(t *testing.T) {
	require.NotNil(t, DefaultRegistry)

	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{Name: "test-pkg-caps-transport", SupportsDelay: true})
	Register("test-pkg-transport", okBuilder)

	assert.True(t, DefaultRegistry.Has("test-pkg-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").SupportsDelay)

	_, err := Build(context.Background(), &StaticConfig{PubSubSystem: "nonexistent"}, nil)
	assert.Error(t, err)
}
