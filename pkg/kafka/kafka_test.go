package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

func TestDecodeJSON(t *testing.T) {
	type task struct {
		TaskID string `json:"task_id"`
		Tags   []string
	}
	got, err := DecodeJSON[task]([]byte(`{"task_id":"t-1","Tags":["inbox"]}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.TaskID != "t-1" || len(got.Tags) != 1 {
		t.Errorf("decoded %+v", got)
	}
	if _, err := DecodeJSON[task]([]byte("{")); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestConsumerOptions(t *testing.T) {
	s := consumerSettings{reader: kafka.ReaderConfig{GroupID: "g", StartOffset: kafka.LastOffset}}
	FromEarliest()(&s)
	WithGroupID("g-host1")(&s)
	OnlyTypes(TypeIngestTask)(&s)
	if s.reader.StartOffset != kafka.FirstOffset || s.reader.GroupID != "g-host1" || !s.accept[TypeIngestTask] {
		t.Errorf("options not applied: %+v", s)
	}
	c := NewConsumer(config.KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}, "t", nil, FromEarliest())
	defer c.Close()
	if c.reader.Config().StartOffset != kafka.FirstOffset {
		t.Errorf("start offset = %d", c.reader.Config().StartOffset)
	}
}

func TestDispatch(t *testing.T) {
	typed := func(typ string) kafka.Message {
		msg, err := encode(Event{Key: "t1", Type: typ, Value: map[string]string{"task_id": "t1"}}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		return msg
	}
	tests := []struct {
		name       string
		msg        kafka.Message
		handlerErr error
		wantCalls  int
		wantCommit bool
	}{
		{"accepted type", typed(TypeIngestTask), nil, 1, true},
		{"no type header", kafka.Message{Key: []byte("t1"), Value: []byte(`{}`)}, nil, 1, true},
		{"other type skipped", typed(TypeStageEvent), nil, 0, true},
		{"handler failure stays uncommitted", typed(TypeIngestTask), errors.New("queue closed"), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := &Consumer{
				logger: slog.Default(),
				accept: map[string]bool{TypeIngestTask: true},
				handler: func(ctx context.Context, key, value []byte) error {
					calls++
					return tt.handlerErr
				},
			}
			if got := c.dispatch(context.Background(), tt.msg); got != tt.wantCommit {
				t.Errorf("commit = %v, want %v", got, tt.wantCommit)
			}
			if calls != tt.wantCalls {
				t.Errorf("handler calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestEncodeSetsHeaders(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encode(Event{Key: "t-1", Type: TypeTaskOutcome, Value: map[string]string{"status": "SUCCESS"}}, at)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "t-1" || string(msg.Value) != `{"status":"SUCCESS"}` {
		t.Errorf("message = %s %s", msg.Key, msg.Value)
	}
	if EventType(msg) != TypeTaskOutcome {
		t.Errorf("event type = %q", EventType(msg))
	}

	untyped, _ := encode(Event{Key: "k"}, at)
	if EventType(untyped) != "" || len(untyped.Headers) != 1 {
		t.Errorf("headers = %+v", untyped.Headers)
	}
	if _, err := encode(Event{Key: "bad", Value: func() {}}, at); err == nil {
		t.Error("expected an encoding error")
	}
}

func TestPublishToUnreachableBrokerIsUnavailable(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "outcomes")
	defer p.Close()
	p.writer.MaxAttempts = 1
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Publish(ctx, Event{Key: "t-1", Type: TypeTaskOutcome, Value: 1})
	if err == nil {
		t.Skip("something answered on 127.0.0.1:1")
	}
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("err = %v", err)
	}
}
