package collaboration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// TestProperty_BusOrdering 同一接收者的消息按发布顺序分发
func TestProperty_BusOrdering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(rt, "n")
		recipients := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c"}), n, n).Draw(rt, "recipients")

		b := NewBus(BusConfig{BufferSize: 8}, zap.NewNop())
		b.Start()
		defer b.Stop()

		got := make(map[string]chan string, 3)
		for _, key := range []string{"a", "b", "c"} {
			ch := make(chan string, n)
			got[key] = ch
			if _, err := b.Subscribe(key, func(m Message) { ch <- m.ID }); err != nil {
				rt.Fatalf("subscribe: %v", err)
			}
		}

		want := make(map[string][]string)
		for i, to := range recipients {
			msg := Message{ID: fmt.Sprintf("m-%03d", i), From: "p", To: to, Type: MessageTypeTask}
			if err := b.Publish(context.Background(), msg); err != nil {
				rt.Fatalf("publish: %v", err)
			}
			want[to] = append(want[to], msg.ID)
		}

		for key, ids := range want {
			for i, id := range ids {
				select {
				case gotID := <-got[key]:
					if gotID != id {
						rt.Fatalf("recipient %s position %d: got %s want %s", key, i, gotID, id)
					}
				case <-time.After(2 * time.Second):
					rt.Fatalf("recipient %s: timed out at position %d", key, i)
				}
			}
		}
	})
}
