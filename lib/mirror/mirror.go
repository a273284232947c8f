// Package mirror publishes cache changes to Redis, both on a pub/sub channel
// and on a capped per-device history list.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync/lib/cache"
	"github.com/hqe-lab/labsync/lib/monitor"
)

const (
	// HistoryLen is the number of messages kept per device list.
	HistoryLen = 1000

	queueLen = 1024
	maxBatch = 64
)

// Message is the JSON form of one change.
type Message struct {
	Device    string    `json:"device"`
	Parameter string    `json:"parameter"`
	Channel   int       `json:"channel,omitempty"`
	Value     any       `json:"value"`
	Unknown   bool      `json:"unknown,omitempty"`
	Time      time.Time `json:"time"`
}

// HistoryKey is the list holding the recent messages of a device.
func HistoryKey(device string) string {
	return fmt.Sprintf("labsync:%s:changes", device)
}

// record is an encoded message and the history list it goes to.
type record struct {
	key  string
	data []byte
}

type sink interface {
	publish(ctx context.Context, channel string, batch []record) error
	close() error
}

// Mirror queues changes from the cache and publishes them from its own
// goroutine, so a slow or absent Redis never stalls a cache commit.
type Mirror struct {
	sink    sink
	channel string
	queue   chan Message
	log     logrus.FieldLogger
	now     func() time.Time
}

// Options configure the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Dial connects to Redis and checks the connection with PING.
func Dial(ctx context.Context, opts Options, log logrus.FieldLogger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	log.WithField("addr", opts.Addr).Info("redis mirror connected")
	return newMirror(&redisSink{client: client}, opts.Channel, log), nil
}

func newMirror(s sink, channel string, log logrus.FieldLogger) *Mirror {
	return &Mirror{
		sink:    s,
		channel: channel,
		queue:   make(chan Message, queueLen),
		log:     log,
		now:     time.Now,
	}
}

// OnChange is a cache subscriber. It never blocks; changes that do not fit
// in the queue are dropped and counted.
func (m *Mirror) OnChange(c cache.Change) {
	msg := Message{Device: c.Device, Parameter: c.Parameter, Channel: c.Channel, Value: c.Value, Time: m.now()}
	if c.Value == cache.Unknown {
		msg.Value, msg.Unknown = nil, true
	}
	select {
	case m.queue <- msg:
	default:
		monitor.MirrorMessages.WithLabelValues("dropped").Inc()
		m.log.WithField("device", c.Device).Warnf("mirror queue full, dropped change of %s", c.Parameter)
	}
}

// Run publishes queued changes in batches until ctx is done, then closes
// the connection.
func (m *Mirror) Run(ctx context.Context) error {
	defer m.sink.close()
	batch := make([]record, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.queue:
			batch = m.add(batch[:0], msg)
		fill:
			for len(batch) < maxBatch {
				select {
				case msg := <-m.queue:
					batch = m.add(batch, msg)
				default:
					break fill
				}
			}
			if len(batch) == 0 {
				continue
			}
			if err := m.sink.publish(ctx, m.channel, batch); err != nil {
				monitor.MirrorMessages.WithLabelValues("failed").Add(float64(len(batch)))
				m.log.Warnf("mirror publish of %d changes: %v", len(batch), err)
				continue
			}
			monitor.MirrorMessages.WithLabelValues("published").Add(float64(len(batch)))
		}
	}
}

func (m *Mirror) add(batch []record, msg Message) []record {
	data, err := json.Marshal(msg)
	if err != nil {
		monitor.MirrorMessages.WithLabelValues("failed").Inc()
		m.log.WithField("device", msg.Device).Warnf("mirror cannot encode %s: %v", msg.Parameter, err)
		return batch
	}
	return append(batch, record{key: HistoryKey(msg.Device), data: data})
}

type redisSink struct {
	client *redis.Client
}

func (r *redisSink) publish(ctx context.Context, channel string, batch []record) error {
	pipe := r.client.Pipeline()
	for _, rec := range batch {
		pipe.Publish(ctx, channel, rec.data)
		pipe.LPush(ctx, rec.key, rec.data)
		pipe.LTrim(ctx, rec.key, 0, HistoryLen-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *redisSink) close() error { return r.client.Close() }
