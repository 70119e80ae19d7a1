package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cordum/cordum-packs/core/infra/logging"
)

const (
	defaultMaxAge = 7 * 24 * time.Hour

	streamExecutions = "PACKS_EXECUTIONS"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilMessage = errors.New("nil bus message")
	errEmptyTopic = errors.New("empty subject")
)

// Options configures the NATS connection.
type Options struct {
	URL          string
	Name         string
	UseJetStream bool
	MaxAge       time.Duration
	TLS          TLSOptions
}

// TLSOptions configures client TLS for NATS.
type TLSOptions struct {
	CAFile   string
	CertFile string
	KeyFile  string
	Insecure bool
}

// Publisher sends protobuf messages on a subject.
type Publisher interface {
	Publish(subject string, msg proto.Message) error
}

// Requester performs a request/reply round trip.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// NatsBus is a thin wrapper over a NATS connection.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
}

// NewNatsBus dials NATS with the provided options.
func NewNatsBus(o Options) (*NatsBus, error) {
	name := o.Name
	if name == "" {
		name = "cordum-packs"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	opts = append(opts, tlsOptions(o.TLS)...)

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc}
	if o.UseJetStream {
		b.initJetStream(o.MaxAge)
	}
	return b, nil
}

func tlsOptions(o TLSOptions) []nats.Option {
	var out []nats.Option
	if o.CAFile != "" {
		out = append(out, nats.RootCAs(o.CAFile))
	}
	if o.CertFile != "" && o.KeyFile != "" {
		out = append(out, nats.ClientCert(o.CertFile, o.KeyFile))
	}
	if o.Insecure {
		out = append(out, nats.Secure(&tls.Config{InsecureSkipVerify: true})) // #nosec G402 -- opt-in for dev clusters
	}
	return out
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Publish sends a protobuf-encoded message on subject. Execution subjects go through
// JetStream when enabled, deduplicated by execution id.
func (b *NatsBus) Publish(subject string, msg proto.Message) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if msg == nil {
		return errNilMessage
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	if b.jsEnabled && isDurableSubject(subject) {
		if id := computeMsgID(subject, msg); id != "" {
			_, err = b.js.Publish(subject, data, nats.MsgId(id))
		} else {
			_, err = b.js.Publish(subject, data)
		}
		return err
	}
	return b.nc.Publish(subject, data)
}

// Request sends data and waits for a single reply or ctx expiry.
func (b *NatsBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errEmptyTopic
	}
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
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

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func (b *NatsBus) initJetStream(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	js, err := b.nc.JetStream()
	if err != nil {
		logging.Warn("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Warn("bus", "jetstream not available", "error", err)
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamExecutions,
		Subjects:   []string{"packs.executions.>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		// Stream may already exist.
		if _, infoErr := js.StreamInfo(streamExecutions); infoErr != nil {
			logging.Warn("bus", "jetstream ensure stream failed", "stream", streamExecutions, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	logging.Info("bus", "jetstream enabled", "stream", streamExecutions, "max_age", maxAge)
}

func isDurableSubject(subject string) bool {
	return strings.HasPrefix(subject, "packs.executions.")
}

func computeMsgID(subject string, msg proto.Message) string {
	s, ok := msg.(*structpb.Struct)
	if !ok || s == nil {
		return ""
	}
	id := strings.TrimSpace(s.GetFields()["execution_id"].GetStringValue())
	if id == "" {
		return ""
	}
	return subject + ":" + id
}
