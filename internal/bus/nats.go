// Package bus carries change notifications between the service layer
// and the worker over NATS.
package bus

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Event identifies the entity a subject refers to.
type Event struct {
	RadarID string `json:"radar_id,omitempty"`
	AlertID string `json:"alert_id,omitempty"`
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
	Log  *slog.Logger
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func decodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

func (s *Subscriber) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		evt, err := decodeEvent(msg.Data)
		if err != nil {
			if s.Log != nil {
				s.Log.Warn("dropping malformed event",
					slog.String("subject", subject),
					slog.String("error", err.Error()))
			}
			return
		}
		handler(evt)
	})
}
