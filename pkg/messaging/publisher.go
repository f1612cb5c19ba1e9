// Package messaging はドメインイベントをRabbitMQのトピックExchangeへ配信する。
//
// AMQP_URLが設定されていない環境では、ログに記録するだけの
// NopPublisherを使う。
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/event"
)

const (
	// exchangeType はイベント配信に使うExchangeの種類。
	exchangeType = "topic"
	// dialAttempts はブローカー接続の試行回数。
	dialAttempts = 5
	// dialInterval は接続試行の間隔。
	dialInterval = 2 * time.Second
)

// Publisher はドメインイベントを配信する。
type Publisher interface {
	// Publish はイベントを1件配信する。
	Publish(ctx context.Context, e *event.Event) error
	// Close は接続を閉じる。
	Close() error
}

// New はurlが空ならNopPublisherを、そうでなければRabbitMQに接続したPublisherを返す。
func New(url, exchange string, logger *zap.Logger) (Publisher, error) {
	if url == "" {
		logger.Info("AMQP_URLが未設定のためイベントはログにのみ記録します")
		return NewNopPublisher(logger), nil
	}
	return Dial(url, exchange, logger)
}

// RoutingKey はイベントのルーティングキー（例: "order.orderplaced"）を返す。
func RoutingKey(e *event.Event) string {
	return strings.ToLower(string(e.AggregateType)) + "." + strings.ToLower(string(e.EventType))
}

// ErrPublisherClosed はClose済みのPublisherで送信しようとしたことを表す。
var ErrPublisherClosed = errors.New("Publisherは既に閉じられています")

// connection はAMQPPublisherが使う接続の操作。*amqp.Connection が実装する。
type connection interface {
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// channel はAMQPPublisherが使うチャネルの操作。*amqp.Channel が実装する。
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc はブローカーに1回接続し、Exchange宣言済みのチャネルを返す。
type dialFunc func() (connection, channel, error)

// AMQPPublisher はRabbitMQへイベントを配信するPublisher。
// ブローカーとの接続が切れた場合は、次の送信時に再接続する。
type AMQPPublisher struct {
	// exchange は送信先のExchange名。
	exchange string
	// dial はブローカーへの接続処理。
	dial dialFunc
	// mu は接続の差し替えとチャネルへの送信を直列化する。
	mu sync.Mutex
	// conn は現在の接続。切断後はnil。
	conn connection
	// ch は現在のチャネル。切断後はnil。
	ch channel
	// closed はClose済みかどうか。
	closed bool
	// logger はロガー。
	logger *zap.Logger
}

func newAMQPPublisher(exchange string, dial dialFunc, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{exchange: exchange, dial: dial, logger: logger}
}

// Dial はRabbitMQに接続し、トピックExchangeを宣言する。
// コンテナ起動直後はブローカーが未起動のことがあるため、数回再試行する。
func Dial(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	p := newAMQPPublisher(exchange, func() (connection, channel, error) {
		return openSession(url, exchange)
	}, logger)

	var (
		conn connection
		ch   channel
		err  error
	)
	for i := 0; i < dialAttempts; i++ {
		conn, ch, err = p.dial()
		if err == nil {
			break
		}
		p.logger.Warn("RabbitMQへの接続に失敗しました", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(dialInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("RabbitMQに接続できません: %w", err)
	}

	p.mu.Lock()
	p.attach(conn, ch)
	p.mu.Unlock()

	p.logger.Info("RabbitMQに接続しました", zap.String("exchange", exchange))
	return p, nil
}

// openSession は接続とチャネルを開いてExchangeを宣言する。
func openSession(url, exchange string) (connection, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("チャネルを開けません: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("Exchangeを宣言できません: %w", err)
	}
	return conn, ch, nil
}

// attach は接続を現在のものとして登録し、切断の監視を始める。muを保持して呼ぶこと。
func (p *AMQPPublisher) attach(conn connection, ch channel) {
	p.conn, p.ch = conn, ch
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go p.watch(conn, notify)
}

// watch は接続が閉じられたら現在の接続を破棄する。
func (p *AMQPPublisher) watch(conn connection, notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != conn {
		return
	}
	p.conn, p.ch = nil, nil
	if ok {
		p.logger.Warn("RabbitMQとの接続が切断されました。次回の送信時に再接続します", zap.Error(amqpErr))
	}
}

// drop は現在の接続を閉じて破棄する。muを保持して呼ぶこと。
func (p *AMQPPublisher) drop() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Publish はイベントをJSONにしてExchangeへ送信する。
// 接続が切れている場合は1回だけ再接続を試みる。
func (p *AMQPPublisher) Publish(ctx context.Context, e *event.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.ch == nil {
		conn, ch, err := p.dial()
		if err != nil {
			return fmt.Errorf("RabbitMQへの再接続に失敗: %w", err)
		}
		p.attach(conn, ch)
		p.logger.Info("RabbitMQに再接続しました", zap.String("exchange", p.exchange))
	}

	if err := p.ch.PublishWithContext(ctx,
		p.exchange,    // exchange
		RoutingKey(e), // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Type:         string(e.EventType),
			Timestamp:    e.CreatedAt,
			Body:         body,
		},
	); err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			p.drop()
		}
		return fmt.Errorf("イベントの送信に失敗: %w", err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	conn, ch := p.conn, p.ch
	p.conn, p.ch = nil, nil
	if conn == nil {
		return nil
	}
	if err := ch.Close(); err != nil {
		_ = conn.Close()
		return err
	}
	return conn.Close()
}

// NopPublisher はイベントをログに記録するだけのPublisher。
type NopPublisher struct {
	// logger はロガー。
	logger *zap.Logger
}

// NewNopPublisher は新しいNopPublisherを生成する。
func NewNopPublisher(logger *zap.Logger) *NopPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NopPublisher{logger: logger}
}

// Publish はイベントをデバッグログに記録する。
func (p *NopPublisher) Publish(_ context.Context, e *event.Event) error {
	p.logger.Debug("イベント（未配信）",
		zap.String("routing_key", RoutingKey(e)),
		zap.String("aggregate_id", e.AggregateID),
	)
	return nil
}

// Close は何もしない。
func (p *NopPublisher) Close() error {
	return nil
}
