package hermes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/protocol"
)

// Dispatcher consumes decoded inbound messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg protocol.Message)
}

const inboxSize = 4096

type inbound struct {
	topic   string
	payload []byte
}

// Hub bridges Hermes MQTT topics to the ASR service. Messages are dispatched
// from the hub's own goroutine in arrival order; paho's router only enqueues.
type Hub struct {
	cfg        config.MQTTConfig
	siteIDs    []string
	dispatcher Dispatcher
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan inbound
	wg     sync.WaitGroup
	client paho.Client
}

func NewHub(cfg config.MQTTConfig, siteIDs []string, dispatcher Dispatcher, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		siteIDs:    siteIDs,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "hermes")),
		ctx:        context.Background(),
		cancel:     func() {},
		inbox:      make(chan inbound, inboxSize),
	}
}

func (h *Hub) Start(ctx context.Context) error {
	h.run(ctx)
	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", slog.String("error", err.Error()))
	})
	// Subscriptions are renewed on every (re)connect.
	opts.SetOnConnectHandler(func(c paho.Client) {
		if err := h.subscribe(c); err != nil {
			h.logger.Error("mqtt subscribe failed", slog.String("error", err.Error()))
		}
	})

	h.client = paho.NewClient(opts)
	token := h.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}
	h.logger.Info("connected to MQTT", slog.String("broker", h.cfg.BrokerURL))
	return nil
}

func (h *Hub) subscribe(c paho.Client) error {
	filters := make(map[string]byte)
	for _, topic := range subscriptions(h.siteIDs) {
		filters[topic] = byte(h.cfg.QoS)
	}
	if token := c.SubscribeMultiple(filters, h.handleMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// run starts the dispatch loop.
func (h *Hub) run(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.ctx.Done():
				return
			case in := <-h.inbox:
				h.route(in.topic, in.payload)
			}
		}
	}()
}

// handleMessage runs on paho's router and must not block on dispatch:
// publishing from a handler would stall acknowledgements.
func (h *Hub) handleMessage(_ paho.Client, msg paho.Message) {
	select {
	case h.inbox <- inbound{topic: msg.Topic(), payload: msg.Payload()}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) route(topic string, payload []byte) {
	m, err := Decode(topic, payload)
	if err != nil {
		h.logger.Warn("skip invalid hermes message", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	h.dispatcher.Dispatch(h.ctx, m)
}

// Publish sends an event on its Hermes topic.
func (h *Hub) Publish(_ context.Context, evt protocol.Event) error {
	if h.client == nil {
		return errors.New("mqtt hub not started")
	}
	topic, payload, err := Encode(evt)
	if err != nil {
		return err
	}
	token := h.client.Publish(topic, byte(h.cfg.QoS), false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timed out", topic)
	}
	return token.Error()
}

func (h *Hub) Healthy() bool {
	return h.client != nil && h.client.IsConnectionOpen()
}

func (h *Hub) Close() {
	if h.client != nil {
		h.client.Disconnect(250)
	}
	h.cancel()
	h.wg.Wait()
}
