package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttConnectTimeout = 10 * time.Second

// MQTTFeedConfig describes a broker-based availability stream.
type MQTTFeedConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MQTTFeed consumes availability updates published by broker-backed providers.
type MQTTFeed struct {
	providerName string
	cfg          MQTTFeedConfig
	cache        *Cache
	logger       *zap.Logger
}

// NewMQTTFeed builds an MQTT push feed for one provider.
func NewMQTTFeed(providerName string, cfg MQTTFeedConfig, cache *Cache, logger *zap.Logger) *MQTTFeed {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("chargehub-availability-%s", providerName)
	}
	return &MQTTFeed{providerName: providerName, cfg: cfg, cache: cache, logger: logger}
}

// Run connects and subscribes until ctx is canceled. Reconnects and
// resubscribes are handled by the paho client through the OnConnect hook.
func (f *MQTTFeed) Run(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(f.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	if f.cfg.Username != "" {
		opts.SetUsername(f.cfg.Username)
		opts.SetPassword(f.cfg.Password)
	}

	opts.OnConnect = func(c paho.Client) {
		f.logger.Info("availability mqtt feed connected",
			zap.String("provider", f.providerName),
			zap.String("topic", f.cfg.Topic),
		)
		if token := c.Subscribe(f.cfg.Topic, f.cfg.QoS, f.onMessage); token.Wait() && token.Error() != nil {
			f.logger.Error("availability mqtt subscribe failed",
				zap.String("provider", f.providerName),
				zap.Error(token.Error()),
			)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		f.logger.Warn("availability mqtt feed connection lost",
			zap.String("provider", f.providerName),
			zap.Error(err),
		)
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

func (f *MQTTFeed) onMessage(_ paho.Client, msg paho.Message) {
	var update StationUpdate
	if err := json.Unmarshal(msg.Payload(), &update); err != nil {
		f.logger.Warn("malformed mqtt availability update",
			zap.String("provider", f.providerName),
			zap.Error(err),
		)
		return
	}
	if update.Provider == "" {
		update.Provider = f.providerName
	}
	f.cache.ApplyUpdate(update)
}
