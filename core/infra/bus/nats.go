package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// EventSubjectPrefix roots every progress event subject.
	EventSubjectPrefix = "blackboard.events"

	logComponent = "bus"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// NatsBus is a thin wrapper over a NATS connection that carries
// protobuf-encoded structpb payloads.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("blackboard-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn(logComponent, "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info(logComponent, "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info(logComponent, "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		_ = b.nc.Drain()
	}
}

// EventSubject is the subject progress events for a job are published on.
func EventSubject(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return EventSubjectPrefix + ".unknown"
	}
	return EventSubjectPrefix + "." + jobID
}

// Publish encodes fields and sends them on subject. NATS core publish is
// buffered client side, so a slow subscriber never stalls the caller.
func (b *NatsBus) Publish(subject string, fields map[string]any) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	data, err := Encode(fields)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe decodes payloads on subject and hands them to handler. Queue
// groups load-balance delivery across subscribers.
func (b *NatsBus) Subscribe(subject, queue string, handler func(map[string]any) error) (*nats.Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errEmptyTopic
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	cb := func(msg *nats.Msg) {
		fields, err := Decode(msg.Data)
		if err != nil {
			logging.Error(logComponent, "decode payload", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(fields); err != nil {
			logging.Error(logComponent, "handler error", "subject", msg.Subject, "error", err)
		}
	}
	if queue == "" {
		return b.nc.Subscribe(subject, cb)
	}
	return b.nc.QueueSubscribe(subject, queue, cb)
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

// Encode converts a JSON-compatible map into protobuf wire bytes.
func Encode(fields map[string]any) ([]byte, error) {
	normalized, err := jsonCompatible(fields)
	if err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(normalized)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal struct: %w", err)
	}
	return st.AsMap(), nil
}

// jsonCompatible round-trips through encoding/json so typed slices, structs and
// integer kinds become the shapes structpb accepts.
func jsonCompatible(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}
