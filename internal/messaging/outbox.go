package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"subsurvey/internal/store"
)

// Publisher is the subset of Client the outbox needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Outbox is the persistent queue behind the drainer.
type Outbox interface {
	EnqueueOutbox(topic string, payload []byte) (int64, error)
	ListPendingOutbox(limit int) ([]store.OutboxMessage, error)
	AckOutbox(id int64) error
	IncrementOutboxRetries(id int64) error
	PruneOutbox(before time.Time) (int64, error)
}

// Envelope wraps every published message.
type Envelope struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

func NewEnvelope(kind string, at time.Time, data any) Envelope {
	return Envelope{ID: uuid.NewString(), Type: kind, At: at.UTC(), Data: data}
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type Snapshot struct {
	Backend   string    `json:"backend"`
	Topic     string    `json:"topic"`
	Connected bool      `json:"connected"`
	Queued    uint64    `json:"queued"`
	Sent      uint64    `json:"sent"`
	Failed    uint64    `json:"failed"`
	Pruned    uint64    `json:"pruned"`
	LastSent  time.Time `json:"last_sent,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// OutboxDrainer queues envelopes and periodically sends pending ones.
type OutboxDrainer struct {
	db       Outbox
	client   Publisher
	backend  string
	topic    string
	interval time.Duration
	// retention is how long sent messages stay in the outbox.
	retention time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu   sync.Mutex
	snap Snapshot
}

func NewOutboxDrainer(db Outbox, client Publisher, backend, topic string, interval, retention time.Duration) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &OutboxDrainer{
		db:        db,
		client:    client,
		backend:   backend,
		topic:     topic,
		interval:  interval,
		retention: retention,
		stopChan:  make(chan struct{}),
	}
}

// Enqueue stores env for delivery on the next drain.
func (d *OutboxDrainer) Enqueue(env Envelope) error {
	if d == nil {
		return nil
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if _, err := d.db.EnqueueOutbox(d.topic, data); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	d.mu.Lock()
	d.snap.Queued++
	d.mu.Unlock()
	return nil
}

func (d *OutboxDrainer) Start() {
	if d == nil {
		return
	}
	d.wg.Add(1)
	go d.drainLoop()
}

func (d *OutboxDrainer) Stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case now := <-ticker.C:
			d.Drain()
			d.Prune(now)
		}
	}
}

// Drain publishes pending messages in order. It returns the number sent.
func (d *OutboxDrainer) Drain() int {
	if d == nil || !d.client.IsConnected() {
		return 0
	}

	msgs, err := d.db.ListPendingOutbox(50)
	if err != nil {
		log.Printf("messaging: list pending outbox: %v", err)
		d.setError(err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("messaging: publish outbox msg=%d retries=%d: %v", msg.ID, msg.Retries, err)
			d.setError(err)
			if err := d.db.IncrementOutboxRetries(msg.ID); err != nil {
				log.Printf("messaging: bump retries msg=%d: %v", msg.ID, err)
			}
			// Keep ordering; the rest waits for the next tick.
			break
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			log.Printf("messaging: ack outbox msg=%d: %v", msg.ID, err)
		}
		sent++
	}
	if sent > 0 {
		d.mu.Lock()
		d.snap.Sent += uint64(sent)
		d.snap.LastSent = time.Now().UTC()
		d.snap.LastError = ""
		d.mu.Unlock()
	}
	return sent
}

// Prune deletes messages sent before now minus the retention window.
func (d *OutboxDrainer) Prune(now time.Time) int64 {
	if d == nil {
		return 0
	}
	n, err := d.db.PruneOutbox(now.Add(-d.retention))
	if err != nil {
		log.Printf("messaging: prune outbox: %v", err)
		return 0
	}
	if n > 0 {
		d.mu.Lock()
		d.snap.Pruned += uint64(n)
		d.mu.Unlock()
	}
	return n
}

func (d *OutboxDrainer) setError(err error) {
	d.mu.Lock()
	d.snap.Failed++
	d.snap.LastError = err.Error()
	d.mu.Unlock()
}

func (d *OutboxDrainer) Snapshot() Snapshot {
	if d == nil {
		return Snapshot{}
	}
	d.mu.Lock()
	s := d.snap
	d.mu.Unlock()
	s.Backend = d.backend
	s.Topic = d.topic
	s.Connected = d.client.IsConnected()
	return s
}
