package http

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/auth"
	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/contact"
	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/proto"
	"github.com/vovakirdan/studio-presence/internal/store/sqlite"
)

const testAdminPassword = "correct horse"

type testEnv struct {
	ts     *httptest.Server
	hub    *core.Hub
	visits *sqlite.SQLiteStore
	auth   *auth.Service
	cfg    *config.Config
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.MaxMessageBytes = 1 << 10
	cfg.JoinRatePerMinute = 600
	cfg.JWTSecret = "test-secret-0123456789"
	return &cfg
}

// startTestServer runs a hub and the full router. tweak may adjust config and deps before the server is built.
func startTestServer(t *testing.T, tweak func(*config.Config, *Deps)) *testEnv {
	t.Helper()

	cfg := testConfig()

	visits, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = visits.Close() })

	hash, err := auth.HashPassword(testAdminPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	authService := auth.NewService(auth.Admin{Username: "admin", PasswordHash: hash}, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	hub := core.NewHub(core.HubOptions{InstanceID: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	deps := Deps{
		Hub:     hub,
		Visits:  visits,
		Auth:    authService,
		Contact: contact.NewService(contact.NewConsoleSender(nil), "studio@example.com", "Studio", nil),
	}
	if tweak != nil {
		tweak(cfg, &deps)
	}

	disabledLogger := zerolog.New(nil)
	server := NewServer(deps, cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, visits: visits, auth: authService, cfg: cfg}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  []proto.Visitor `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// waitVisitors reads frames until a visitors event lists exactly want.
func waitVisitors(t *testing.T, conn *websocket.Conn, want ...string) outboundFrame {
	t.Helper()

	sort.Strings(want)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame.Type != proto.OutboundTypeEvent || frame.Event != proto.EventVisitors {
			continue
		}
		got := make([]string, 0, len(frame.Data))
		for _, v := range frame.Data {
			got = append(got, v.IP)
		}
		sort.Strings(got)
		if strings.Join(got, ",") == strings.Join(want, ",") {
			return frame
		}
	}
	t.Fatalf("visitors %v not received", want)
	return outboundFrame{}
}

func sendRaw(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}
