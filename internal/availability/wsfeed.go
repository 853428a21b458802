package availability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadDeadline   = 60 * time.Second
	wsReconnectDelay = 5 * time.Second
	wsReadLimit      = 1 << 20
)

// WSFeed consumes a provider's websocket availability stream and applies
// updates to the cache as they arrive.
type WSFeed struct {
	providerName string
	url          string
	cache        *Cache
	logger       *zap.Logger
}

// NewWSFeed builds a websocket push feed for one provider.
func NewWSFeed(providerName, url string, cache *Cache, logger *zap.Logger) *WSFeed {
	return &WSFeed{providerName: providerName, url: url, cache: cache, logger: logger}
}

// Run dials and reads until ctx is canceled, reconnecting after transient
// stream failures.
func (f *WSFeed) Run(ctx context.Context) {
	for {
		if err := f.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("availability ws feed disconnected",
				zap.String("provider", f.providerName),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must die with the connection, not with the process; Run
	// reconnects through here indefinitely.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	f.logger.Info("availability ws feed connected", zap.String("provider", f.providerName))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		var update StationUpdate
		if err := json.Unmarshal(message, &update); err != nil {
			f.logger.Warn("malformed ws availability update",
				zap.String("provider", f.providerName),
				zap.Error(err),
			)
			continue
		}
		if update.Provider == "" {
			update.Provider = f.providerName
		}
		f.cache.ApplyUpdate(update)
	}
}
