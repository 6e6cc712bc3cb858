package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"microtrax/internal/models"
	"microtrax/utils"
)

func TestPurchaseHub_StreamsOutcomesForSubscribedApp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quiet := log.New(io.Discard, "", 0)
	hub := NewPurchaseHub(quiet, quiet)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"app_id": "480"}); err != nil {
		t.Fatalf("hello: %v", err)
	}

	got := make(chan models.PurchaseOutcome, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var o models.PurchaseOutcome
		if err := conn.ReadJSON(&o); err == nil {
			got <- o
		}
	}()

	// Registration is asynchronous, so keep publishing until the subscriber
	// sees something. Outcomes for other apps must never arrive.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		_ = hub.Notify(ctx, models.PurchaseOutcome{OrderID: "other", AppID: "570", Status: models.PurchaseFinalized})
		_ = hub.Notify(ctx, models.PurchaseOutcome{OrderID: "1001", AppID: "480", Status: models.PurchaseFinalized, Amount: 199, Currency: "USD"})
		select {
		case o := <-got:
			if o.AppID != "480" || o.OrderID != "1001" || o.Amount != 199 {
				t.Fatalf("unexpected outcome %+v", o)
			}
			return
		case <-deadline:
			t.Fatal("no outcome received")
		case <-tick.C:
		}
	}
}

func TestPurchaseHub_RejectsMissingHello(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quiet := log.New(io.Discard, "", 0)
	hub := NewPurchaseHub(quiet, quiet)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"app_id": " "}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestPurchaseHub_NotifyAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	quiet := log.New(io.Discard, "", 0)
	hub := NewPurchaseHub(quiet, quiet)

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	for i := 0; i < 100; i++ {
		if err := hub.Notify(context.Background(), models.PurchaseOutcome{AppID: "480"}); err != nil {
			t.Fatalf("notify after stop: %v", err)
		}
	}
}

func TestPurchaseHub_BroadcastAcrossPingTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quiet := log.New(io.Discard, "", 0)
	hub := NewPurchaseHub(quiet, quiet)
	hub.pingEvery = 2 * time.Millisecond
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var pings int64
	conn.SetPingHandler(func(data string) error {
		atomic.AddInt64(&pings, 1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	if err := conn.WriteJSON(map[string]string{"app_id": "480"}); err != nil {
		t.Fatalf("hello: %v", err)
	}

	const total = 200
	ready := make(chan struct{})
	received := make(chan int, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var once sync.Once
		n := 0
		for n < total {
			var o models.PurchaseOutcome
			if err := conn.ReadJSON(&o); err != nil {
				break
			}
			once.Do(func() { close(ready) })
			if strings.HasPrefix(o.OrderID, "n-") {
				n++
			}
		}
		received <- n
	}()

	deadline := time.After(5 * time.Second)
	for registered := false; !registered; {
		_ = hub.Notify(ctx, models.PurchaseOutcome{OrderID: "warm", AppID: "480"})
		select {
		case <-ready:
			registered = true
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(20 * time.Millisecond):
		}
	}

	for i := 0; i < total; i++ {
		if err := hub.Notify(ctx, models.PurchaseOutcome{OrderID: fmt.Sprintf("n-%d", i), AppID: "480"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
		if i%20 == 0 {
			time.Sleep(3 * time.Millisecond)
		}
	}

	if n := <-received; n != total {
		t.Fatalf("received %d of %d outcomes", n, total)
	}
	if atomic.LoadInt64(&pings) == 0 {
		t.Fatal("no pings observed")
	}
}

func TestPurchaseStream_RequiresAdmin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newTestApp(t)
	app.hub = NewPurchaseHub(app.infoLog, app.errorLog)
	go app.hub.Run(ctx)

	srv := httptest.NewServer(app.requireAdminStream(http.HandlerFunc(app.hub.ServeWS)))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("upgrade without credentials succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	admin, err := app.tokens.NewJWT("ops", utils.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+admin, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}
