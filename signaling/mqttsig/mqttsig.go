// Package mqttsig carries signaling messages through an MQTT broker. Both
// ends of a session subscribe to one topic and publish to the other.
//
// MQTT drops messages published before anyone subscribed, so each end
// announces itself with a hello once subscribed and holds back signals
// until it has heard the remote hello.
package mqttsig

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/ray1422/mcprtc/signaling"
	log "github.com/sirupsen/logrus"
)

// DefaultPrefix is the topic prefix used when Config.Prefix is empty.
const DefaultPrefix = "mcprtc"

// NewSession returns a fresh random session id.
func NewSession() string {
	return uuid.New().String()
}

// Topics is the topic pair of one end.
type Topics struct {
	Out string
	In  string
}

// SessionTopics returns the topics of one end of session. The two ends
// must pass opposite values of initiator.
func SessionTopics(prefix, session string, initiator bool) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	toResponder := fmt.Sprintf("%s/%s/to-responder", prefix, session)
	toInitiator := fmt.Sprintf("%s/%s/to-initiator", prefix, session)
	if initiator {
		return Topics{Out: toResponder, In: toInitiator}
	}
	return Topics{Out: toInitiator, In: toResponder}
}

// envelope is the MQTT payload.
type envelope struct {
	Hello  bool            `json:"hello,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// Config describes a broker connection for Dial.
type Config struct {
	// Broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	Session  string
	// Initiator selects the topic direction.
	Initiator bool
	// QoS of publish and subscribe, 1 when zero.
	QoS byte
}

// Channel is one end of an MQTT signaling session.
type Channel struct {
	client  mqtt.Client
	owned   bool
	topics  Topics
	qos     byte
	inbound *signaling.Queue

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	closed    bool
	heardPeer bool
}

var _ signaling.Channel = (*Channel)(nil)

// New wraps client. The caller keeps ownership of client; Connect only
// connects it if it is not connected yet.
func New(client mqtt.Client, topics Topics, qos byte) *Channel {
	if qos == 0 {
		qos = 1
	}
	return &Channel{
		client:  client,
		topics:  topics,
		qos:     qos,
		inbound: signaling.NewQueue(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Dial builds a client for cfg. The channel owns it and disconnects on
// Close.
func Dial(cfg Config) *Channel {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "mcprtc-" + uuid.New().String()
	}
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warnf("mqtt connection lost: %v", err)
	})

	ch := New(mqtt.NewClient(opts), SessionTopics(cfg.Prefix, cfg.Session, cfg.Initiator), cfg.QoS)
	ch.owned = true
	return ch
}

// Connect connects the client if needed, subscribes to the inbound topic
// and announces this end.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return signaling.ErrChannelClosed
	}

	if !c.client.IsConnected() {
		if err := wait(ctx, c.client.Connect()); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	}
	if err := wait(ctx, c.client.Subscribe(c.topics.In, c.qos, c.onMessage)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", c.topics.In, err)
	}
	return c.hello(ctx)
}

func (c *Channel) hello(ctx context.Context) error {
	return c.publish(ctx, envelope{Hello: true})
}

func (c *Channel) publish(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := wait(ctx, c.client.Publish(c.topics.Out, c.qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", c.topics.Out, err)
	}
	return nil
}

func (c *Channel) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		log.Warnf("mqtt signaling: dropping undecodable payload on %s: %v", msg.Topic(), err)
		return
	}
	if env.Hello {
		c.mu.Lock()
		first := !c.heardPeer
		c.heardPeer = true
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })
		if first {
			// the peer may have missed our first hello
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := c.hello(ctx); err != nil {
					log.Debugf("mqtt signaling: answering hello: %v", err)
				}
			}()
		}
		return
	}
	if len(env.Signal) == 0 {
		return
	}
	if err := c.inbound.Push(env.Signal); err != nil {
		log.Debugf("mqtt signaling: dropping signal after close")
	}
}

// Send implements signaling.Channel. It waits until the remote end
// subscribed.
func (c *Channel) Send(ctx context.Context, msg signaling.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return signaling.ErrChannelClosed
	}
	select {
	case <-c.ready:
	case <-c.done:
		return signaling.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.publish(ctx, envelope{Signal: append(json.RawMessage(nil), msg...)})
}

// Receive implements signaling.Channel.
func (c *Channel) Receive(ctx context.Context) (signaling.Message, error) {
	return c.inbound.Pop(ctx)
}

// Close implements signaling.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.inbound.Close()
	if c.client.IsConnected() {
		if !c.client.Unsubscribe(c.topics.In).WaitTimeout(time.Second) {
			log.Debugf("mqtt signaling: unsubscribe %s timed out", c.topics.In)
		}
	}
	if c.owned {
		c.client.Disconnect(250)
	}
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
