package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nao1215/fooddelivery/pkg/event"
)

func TestRoutingKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   *event.Event
		want string
	}{
		{
			name: "注文イベントのルーティングキーが小文字で組み立てられること",
			ev:   &event.Event{AggregateType: event.AggregateTypeOrder, EventType: event.TypeOrderPlaced},
			want: "order.orderplaced",
		},
		{
			name: "決済イベントのルーティングキーが組み立てられること",
			ev:   &event.Event{AggregateType: event.AggregateTypePayment, EventType: event.TypePaymentProcessed},
			want: "payment.paymentprocessed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RoutingKey(tt.ev); got != tt.want {
				t.Errorf("RoutingKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("URLが空の場合はNopPublisherを返すこと", func(t *testing.T) {
		t.Parallel()

		p, err := New("", "fooddelivery.events", zap.NewNop())
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if _, ok := p.(*NopPublisher); !ok {
			t.Errorf("New() = %T, want *NopPublisher", p)
		}
	})
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	t.Run("イベントをデバッグログに記録しエラーを返さないこと", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.DebugLevel)
		p := NewNopPublisher(zap.New(core))

		ev, err := event.New(event.AggregateTypeOrder, 5, event.TypeOrderDeleted, event.OrderDeletedData{DeletedBy: 1})
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}
		if err := p.Publish(context.Background(), ev); err != nil {
			t.Errorf("Publish() = %v, want nil", err)
		}
		if logs.Len() != 1 {
			t.Errorf("ログ件数 = %d, want 1", logs.Len())
		}
		if err := p.Close(); err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	})
}

// fakeConn はテスト用の接続。NotifyCloseで渡されたチャネルを保持する。
type fakeConn struct {
	mu     sync.Mutex
	notify chan *amqp.Error
	closed bool
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = receiver
	return receiver
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.notify)
	}
	return nil
}

// breakDown はブローカー側からの切断を模倣する。
func (c *fakeConn) breakDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"}
	close(c.notify)
}

// fakeChannel は送信されたメッセージを記録するテスト用チャネル。
type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	err       error
}

func (ch *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.err != nil {
		return ch.err
	}
	ch.published = append(ch.published, msg)
	return nil
}

func (ch *fakeChannel) Close() error { return nil }

func (ch *fakeChannel) count() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.published)
}

// fakeBroker は接続のたびに新しい接続とチャネルを払い出す。
type fakeBroker struct {
	mu       sync.Mutex
	conns    []*fakeConn
	channels []*fakeChannel
	failNext error
}

func (b *fakeBroker) dial() (connection, channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return nil, nil, err
	}
	conn, ch := &fakeConn{}, &fakeChannel{}
	b.conns = append(b.conns, conn)
	b.channels = append(b.channels, ch)
	return conn, ch, nil
}

func (b *fakeBroker) dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// connectedPublisher は接続済みのAMQPPublisherを返す。
func connectedPublisher(t *testing.T, b *fakeBroker) *AMQPPublisher {
	t.Helper()

	p := newAMQPPublisher("fooddelivery.events", b.dial, zap.NewNop())
	conn, ch, err := p.dial()
	if err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}
	p.mu.Lock()
	p.attach(conn, ch)
	p.mu.Unlock()
	return p
}

// waitDetached は切断の検知で接続が破棄されるまで待つ。
func waitDetached(t *testing.T, p *AMQPPublisher) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		detached := p.ch == nil
		p.mu.Unlock()
		if detached {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("切断後も接続が破棄されない")
}

func testEvent(t *testing.T) *event.Event {
	t.Helper()

	ev, err := event.New(event.AggregateTypeOrder, 5, event.TypeOrderDeleted, event.OrderDeletedData{DeletedBy: 1})
	if err != nil {
		t.Fatalf("event.New()でエラーが発生: %v", err)
	}
	return ev
}

func TestAMQPPublisher(t *testing.T) {
	t.Parallel()

	t.Run("ルーティングキーと属性を付けて送信すること", func(t *testing.T) {
		t.Parallel()

		b := &fakeBroker{}
		p := connectedPublisher(t, b)
		ev := testEvent(t)

		if err := p.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		msgs := b.channels[0].published
		if len(msgs) != 1 {
			t.Fatalf("送信件数 = %d, want 1", len(msgs))
		}
		if msgs[0].MessageId != ev.ID || msgs[0].ContentType != "application/json" || msgs[0].DeliveryMode != amqp.Persistent {
			t.Errorf("送信メッセージ = %+v", msgs[0])
		}
	})

	t.Run("ブローカーから切断された後の送信で再接続すること", func(t *testing.T) {
		t.Parallel()

		b := &fakeBroker{}
		p := connectedPublisher(t, b)

		b.conns[0].breakDown()
		waitDetached(t, p)

		if err := p.Publish(context.Background(), testEvent(t)); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if got := b.dials(); got != 2 {
			t.Errorf("接続回数 = %d, want 2", got)
		}
		if got := b.channels[1].count(); got != 1 {
			t.Errorf("新しいチャネルへの送信件数 = %d, want 1", got)
		}
	})

	t.Run("チャネルが閉じていた送信は失敗し次の送信で再接続すること", func(t *testing.T) {
		t.Parallel()

		b := &fakeBroker{}
		p := connectedPublisher(t, b)
		b.channels[0].err = amqp.ErrClosed

		if err := p.Publish(context.Background(), testEvent(t)); !errors.Is(err, amqp.ErrClosed) {
			t.Fatalf("err = %v, want amqp.ErrClosed", err)
		}
		if err := p.Publish(context.Background(), testEvent(t)); err != nil {
			t.Fatalf("再接続後のPublish()でエラーが発生: %v", err)
		}
		if got := b.channels[1].count(); got != 1 {
			t.Errorf("新しいチャネルへの送信件数 = %d, want 1", got)
		}
	})

	t.Run("再接続に失敗した場合はエラーを返し次の送信で再試行すること", func(t *testing.T) {
		t.Parallel()

		b := &fakeBroker{}
		p := connectedPublisher(t, b)
		b.conns[0].breakDown()
		waitDetached(t, p)

		b.mu.Lock()
		b.failNext = errors.New("connection refused")
		b.mu.Unlock()

		if err := p.Publish(context.Background(), testEvent(t)); err == nil {
			t.Fatal("エラーが返されるべき")
		}
		if err := p.Publish(context.Background(), testEvent(t)); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if got := b.dials(); got != 2 {
			t.Errorf("成功した接続回数 = %d, want 2", got)
		}
	})

	t.Run("Close後の送信はErrPublisherClosedを返すこと", func(t *testing.T) {
		t.Parallel()

		b := &fakeBroker{}
		p := connectedPublisher(t, b)
		if err := p.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if err := p.Publish(context.Background(), testEvent(t)); !errors.Is(err, ErrPublisherClosed) {
			t.Errorf("err = %v, want ErrPublisherClosed", err)
		}
		if got := b.dials(); got != 1 {
			t.Errorf("接続回数 = %d, want 1", got)
		}
	})
}
