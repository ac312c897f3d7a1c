package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NatsService publishes lifecycle events on the file-events stream. The
// Telegram notification bot and any other observers consume them out of
// process; the request path never depends on a publish succeeding.
type NatsService struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

const eventStream = "file-events"

// ConnectNATS connects and initializes JetStream and the file-events stream.
func ConnectNATS(url string) (*NatsService, error) {
	opts := []nats.Option{
		nats.Name("file-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[NATS] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Println("[NATS] connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &NatsService{nc: conn, js: js}
	if err := s.ensureStream(); err != nil {
		log.Printf("[NATS] warning: failed to ensure stream: %v", err)
	}

	log.Println("[NATS] connected and JetStream initialized")
	return s, nil
}

// ensureStream creates the file-events stream if it doesn't exist.
func (s *NatsService) ensureStream() error {
	if _, err := s.js.StreamInfo(eventStream); err == nil {
		log.Printf("[NATS] stream %s already exists", eventStream)
		return nil
	}

	streamCfg := &nats.StreamConfig{
		Name:     eventStream,
		Subjects: []string{"files.*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	}
	_, err := s.js.AddStream(streamCfg)
	return err
}

// PublishEvent publishes an event via JetStream (durable, stored).
// subject e.g. "files.downloaded".
func (s *NatsService) PublishEvent(subject string, payload interface{}) error {
	if s == nil || s.js == nil {
		return errors.New("jetstream not initialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// Message ID for idempotency on the consumer side
	msgID := uuid.New().String()
	if _, err := s.js.Publish(subject, data, nats.MsgId(msgID)); err != nil {
		log.Printf("[NATS] publish failed subject=%s err=%v", subject, err)
		return err
	}
	return nil
}

func (s *NatsService) Close() {
	if s != nil && s.nc != nil {
		s.nc.Close()
	}
}
