package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/models"
)

// DataLoaded is published after every successful ingestion batch so that other
// instances drop their cached KPI results.
type DataLoaded struct {
	BatchID  string          `json:"batch_id"`
	Source   string          `json:"source"`
	Entity   string          `json:"entity"`
	Mode     models.LoadMode `json:"mode"`
	Records  int             `json:"records"`
	LoadedAt time.Time       `json:"loaded_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bus builds the Kafka reader and writer of one dashboard instance.
type Bus struct {
	brokers  []string
	topic    string
	group    string
	instance string
	log      *logrus.Entry
}

func New(brokers []string, topic, group string, log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	instance := uuid.NewString()
	return &Bus{
		brokers:  brokers,
		topic:    topic,
		group:    group,
		instance: instance,
		log:      log.WithFields(logrus.Fields{"component": "kafka-bus", "instance": instance}),
	}
}

func (b *Bus) Publisher() *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        b.topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.LeastBytes{},
	}
	return newPublisher(w, b.instance, b.log)
}

// Subscriber reads with a per-instance group so that every instance sees every
// event, starting at the end of the topic.
func (b *Bus) Subscriber(invalidate func()) *Subscriber {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     b.group + "-" + b.instance,
		Topic:       b.topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newSubscriber(r, b.instance, invalidate, b.log)
}

/*
PUBLISH → one message per successful batch
*/

type Publisher struct {
	w        messageWriter
	instance string
	log      *logrus.Entry
}

func newPublisher(w messageWriter, instance string, log *logrus.Entry) *Publisher {
	return &Publisher{w: w, instance: instance, log: log}
}

// Publish sends ev keyed by its entity.
func (p *Publisher) Publish(ctx context.Context, ev DataLoaded) error {
	ev.Source = p.instance
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Entity), Value: b}); err != nil {
		return errors.Wrap(err, "publish data-loaded")
	}
	return nil
}

// OnLoaded adapts Publish to an ingestion hook. Publishing failures are logged only:
// the batch is already committed.
func (p *Publisher) OnLoaded(ctx context.Context, rep models.LoadReport) {
	ev := DataLoaded{
		BatchID:  rep.BatchID,
		Entity:   rep.Entity,
		Mode:     rep.Mode,
		Records:  rep.RecordsLoaded,
		LoadedAt: time.Now().UTC(),
	}
	if err := p.Publish(ctx, ev); err != nil {
		p.log.WithError(err).WithField("batch_id", rep.BatchID).Warn("data-loaded event not published")
	}
}

func (p *Publisher) Close() error { return p.w.Close() }

/*
SUBSCRIBE → invalidate on events from other instances
*/

type Subscriber struct {
	r          messageReader
	instance   string
	invalidate func()
	log        *logrus.Entry
}

func newSubscriber(r messageReader, instance string, invalidate func(), log *logrus.Entry) *Subscriber {
	return &Subscriber{r: r, instance: instance, invalidate: invalidate, log: log}
}

// Run consumes events until ctx is done. Malformed messages are committed and skipped.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		msg, err := s.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch data-loaded")
		}
		s.handle(msg)
		if err := s.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit data-loaded")
		}
	}
}

func (s *Subscriber) handle(msg kafka.Message) {
	var ev DataLoaded
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		s.log.WithError(err).WithField("offset", msg.Offset).Warn("skipping malformed event")
		return
	}
	if ev.Source == s.instance {
		return
	}
	s.log.WithFields(logrus.Fields{"batch_id": ev.BatchID, "entity": ev.Entity, "source": ev.Source}).
		Info("remote data load, invalidating cache")
	s.invalidate()
}

func (s *Subscriber) Close() error { return s.r.Close() }
