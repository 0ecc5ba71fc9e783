package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"aetherBoard/backend/internal/board"
)

// KafkaDispatcher 把已落库的看板事件旁路给 Kafka 下游
// （搜索索引、通知、审计）。Append 主链路只做入队，发送在
// worker 里异步进行：Kafka 抖动由有界队列吸收，彻底堵死时
// 丢弃并记日志——旁路不承诺强一致。
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan queuedEvent

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type queuedEvent struct {
	boardID string
	env     board.Envelope
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, opt KafkaDispatcherOptions) *KafkaDispatcher {
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan queuedEvent, opt.QueueSize),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	for i := 0; i < d.workers; i++ {
		go d.drain(i)
	}
	return d
}

// Enqueue 入队一个待旁路事件；队列满时阻塞到 ctx 超时为止。
// Append 给的 ctx 预算很短（200ms），所以堵死时是丢事件而不是拖提交。
func (d *KafkaDispatcher) Enqueue(ctx context.Context, boardID string, env board.Envelope) error {
	select {
	case d.queue <- queuedEvent{boardID: boardID, env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *KafkaDispatcher) drain(workerID int) {
	for evt := range d.queue {
		if err := d.deliver(evt); err != nil {
			log.Printf("relay: kafka drop event board=%s type=%s id=%s worker=%d err=%v",
				evt.boardID, evt.env.Type, evt.env.Meta.EventID, workerID, err)
		}
	}
}

// deliver 带退避重试地发送一个事件；重试次数用尽返回最后的错误。
func (d *KafkaDispatcher) deliver(evt queuedEvent) error {
	wait := d.baseBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = d.sendOnce(evt); err == nil {
			return nil
		}
		if attempt >= d.maxRetry {
			return err
		}
		time.Sleep(wait)
		// 指数退避，封顶 maxBackoff
		if wait *= 2; wait > d.maxBackoff {
			wait = d.maxBackoff
		}
	}
}

func (d *KafkaDispatcher) sendOnce(evt queuedEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt.env)
	if err != nil {
		return err
	}
	// key=boardID：同一看板的事件进同一分区，分区内保序
	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.boardID),
		Value: sarama.ByteEncoder(b),
	})
	return err
}
