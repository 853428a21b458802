package availability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/internal/provider"
)

func wsTestServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSFeedAppliesPushedUpdates(t *testing.T) {
	cache := NewCache(Options{}, zap.NewNop())
	cache.StoreDiscovery("volta", []provider.Station{cachedStation("v-1")})

	server := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(StationUpdate{StationID: "v-1", ChargerID: "v-1-c1", Available: false})
	})
	feed := NewWSFeed("volta", wsURL(server), cache, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	feed.connectAndRead(ctx)

	st, ok := cache.Station("volta", "v-1")
	if !ok {
		t.Fatal("station missing after update")
	}
	if st.Chargers[0].Available {
		t.Fatal("pushed availability update not applied")
	}
}

func TestWSFeedWatcherExitsWithConnection(t *testing.T) {
	server := wsTestServer(t, func(*websocket.Conn) {})
	cache := NewCache(Options{}, zap.NewNop())
	feed := NewWSFeed("volta", wsURL(server), cache, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseline := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		feed.connectAndRead(ctx)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+4 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection watchers leaked: %d goroutines after 20 connects, baseline %d",
		runtime.NumGoroutine(), baseline)
}
