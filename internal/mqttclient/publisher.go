// Package mqttclient mirrors the engine's event stream onto a local
// MQTT broker so home-automation and note-taking tools can consume
// transcripts without holding an SSE connection open. Optional: the
// engine runs fine with no broker configured.
package mqttclient

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/events"
)

// segmentBatchSize and segmentBatchInterval bound how segments
// accumulate before one broker publish.
const (
	segmentBatchSize     = 20
	segmentBatchInterval = time.Second
)

// PublisherOptions configures the broker connection.
type PublisherOptions struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

// Publisher forwards bus events to MQTT topics under a prefix.
// Segments are batched; lifecycle events go out individually.
type Publisher struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger

	segments *Batcher[json.RawMessage]
	cancel   func()
	done     chan struct{}
}

// Connect dials the broker and returns a publisher ready for Run.
func Connect(opts PublisherOptions) (*Publisher, error) {
	p := &Publisher{
		prefix: opts.TopicPrefix,
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
		done:   make(chan struct{}),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	p.segments = NewBatcher[json.RawMessage](segmentBatchSize, segmentBatchInterval, p.publishSegmentBatch)
	return p, nil
}

// Run subscribes to the bus and forwards events until Close.
func (p *Publisher) Run(bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.Filter{Types: []string{
		events.TypeSegment,
		events.TypeSessionStarted,
		events.TypeSessionEnded,
		events.TypePipelineStatus,
		events.TypeModelStatus,
		events.TypeDeviceLost,
	}})
	p.cancel = cancel

	go func() {
		defer close(p.done)
		for e := range ch {
			p.forward(e)
		}
	}()
	p.log.Info().Str("prefix", p.prefix).Msg("mqtt publisher running")
}

func (p *Publisher) forward(e events.Event) {
	switch e.Type {
	case events.TypeSegment:
		p.segments.Add(e.Data)
	case events.TypeSessionStarted, events.TypeSessionEnded:
		// Flush so a session's last segments land before its end event.
		p.segments.Flush()
		p.publish(p.prefix+"/session", e.Data)
	case events.TypePipelineStatus:
		p.publish(p.prefix+"/pipeline/status", e.Data)
	case events.TypeModelStatus:
		p.publish(p.prefix+"/model/status", e.Data)
	case events.TypeDeviceLost:
		p.publish(p.prefix+"/pipeline/device_lost", e.Data)
	}
}

func (p *Publisher) publishSegmentBatch(batch []json.RawMessage) {
	data, err := json.Marshal(batch)
	if err != nil {
		return
	}
	p.publish(p.prefix+"/transcript/segments", data)
}

func (p *Publisher) publish(topic string, payload []byte) {
	if !p.connected.Load() {
		// Auto-reconnect is on; events during an outage are dropped,
		// not buffered without bound.
		return
	}
	token := p.conn.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (p *Publisher) onConnect(_ mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// IsConnected reports the live broker connection state.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// Close unsubscribes from the bus, flushes pending segments and
// disconnects.
func (p *Publisher) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.segments.Stop()
	p.log.Info().Msg("disconnecting mqtt client")
	p.conn.Disconnect(1000)
}
