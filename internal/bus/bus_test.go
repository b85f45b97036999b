package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicPublish(t *testing.T) {
	t.Run("delivers to all subscribers in order", func(t *testing.T) {
		topic := NewTopic[int]()
		var order []string

		topic.Subscribe(func(v int) { order = append(order, "first") })
		topic.Subscribe(func(v int) { order = append(order, "second") })

		topic.Publish(1)
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("publish with no subscribers is a no-op", func(t *testing.T) {
		topic := NewTopic[string]()
		assert.NotPanics(t, func() { topic.Publish("x") })
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		topic := NewTopic[int]()
		count := 0
		unsub := topic.Subscribe(func(int) { count++ })

		topic.Publish(1)
		unsub()
		topic.Publish(2)

		assert.Equal(t, 1, count)
		assert.Equal(t, 0, topic.Len())
	})

	t.Run("double unsubscribe is a no-op", func(t *testing.T) {
		topic := NewTopic[int]()
		unsubA := topic.Subscribe(func(int) {})
		topic.Subscribe(func(int) {})

		unsubA()
		unsubA()
		assert.Equal(t, 1, topic.Len())
	})
}

func TestValue(t *testing.T) {
	t.Run("get before set", func(t *testing.T) {
		v := NewValue[float64]()
		_, ok := v.Get()
		assert.False(t, ok)
	})

	t.Run("set publishes and retains", func(t *testing.T) {
		v := NewValue[float64]()
		var seen []float64
		v.Subscribe(func(f float64) { seen = append(seen, f) })

		v.Set(0.5)

		got, ok := v.Get()
		require.True(t, ok)
		assert.Equal(t, 0.5, got)
		assert.Equal(t, []float64{0.5}, seen)
	})

	t.Run("late subscriber replays current value", func(t *testing.T) {
		v := NewValue[string]()
		v.Set("current")

		var seen []string
		v.Subscribe(func(s string) { seen = append(seen, s) })
		v.Set("next")

		assert.Equal(t, []string{"current", "next"}, seen)
	})
}
