package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// KafkaDispatcher publishes events through a local bounded queue with
// worker goroutines and limited retries:
// - Publish only enqueues, so the submit path never blocks on Kafka
// - short broker stalls are absorbed by the queue and backoff
// - when retries exhaust the event is dropped and logged, not queued forever
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan Event

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wg  sync.WaitGroup
	log zerolog.Logger

	closeOnce sync.Once
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, log zerolog.Logger, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 50 * time.Millisecond
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = time.Second
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan Event, opt.QueueSize),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		log:         log,
	}
	d.start()
	return d
}

// Publish enqueues the event, waiting only as long as ctx allows when the
// queue is full. Events are not required to survive a saturated queue.
func (d *KafkaDispatcher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and waits for in-flight sends.
func (d *KafkaDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *KafkaDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt Event) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		err := d.sendOnce(evt)
		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			d.log.Warn().
				Str("event", evt.Name).
				Str("subject", evt.Subject).
				Int("worker", workerID).
				Err(err).
				Msg("kafka send failed, dropping event")
			return
		}
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt Event) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.Subject),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
