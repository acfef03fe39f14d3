package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/studio-presence/internal/auth"
	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/log"
	"github.com/vovakirdan/studio-presence/internal/proto"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.DatabasePath = ""
	cfg.GeoLookupURL = ""
	cfg.RelayConnectTimeout = 300 * time.Millisecond
	cfg.RelayHeartbeat = 50 * time.Millisecond
	cfg.RelayPeerTTL = time.Second
	return &cfg
}

type runningApp struct {
	app  *App
	ts   *httptest.Server
	done chan error
}

func startApp(t *testing.T, cfg *config.Config) *runningApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, log.Nop())
	if err != nil {
		cancel()
		t.Fatalf("new app: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("app did not stop")
		}
	})
	return &runningApp{app: a, ts: ts, done: done}
}

func (r *runningApp) join(t *testing.T, ip string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, strings.Replace(r.ts.URL, "http", "ws", 1)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	payload := `{"type":"join","data":{"ip":"` + ip + `"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("join: %v", err)
	}
	return conn
}

func waitVisitors(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()

	sort.Strings(want)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var frame struct {
			Type string          `json:"type"`
			Data []proto.Visitor `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("visitors %v not received: %v", want, err)
		}
		got := make([]string, 0, len(frame.Data))
		for _, v := range frame.Data {
			got = append(got, v.IP)
		}
		sort.Strings(got)
		if strings.Join(got, ",") == strings.Join(want, ",") {
			return
		}
	}
}

func TestStartsLocalOnlyWhenRelayUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RelayURL = "redis://127.0.0.1:1/0"

	start := time.Now()
	r := startApp(t, cfg)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("startup blocked for %v", elapsed)
	}
	if r.app.Relayed() {
		t.Fatalf("expected local-only mode")
	}

	conn := r.join(t, "1.1.1.1")
	waitVisitors(t, conn, "1.1.1.1")
}

func TestInstancesShareVisitorsOverRelay(t *testing.T) {
	cfgA := testConfig(t)
	cfgA.RelayURL = "memory://" + t.Name()
	cfgA.InstanceID = "a"
	cfgB := testConfig(t)
	cfgB.RelayURL = cfgA.RelayURL
	cfgB.InstanceID = "b"

	a := startApp(t, cfgA)
	b := startApp(t, cfgB)
	if !a.app.Relayed() || !b.app.Relayed() {
		t.Fatalf("expected both instances relayed")
	}

	connA := a.join(t, "1.1.1.1")
	connB := b.join(t, "2.2.2.2")

	waitVisitors(t, connA, "1.1.1.1", "2.2.2.2")
	waitVisitors(t, connB, "1.1.1.1", "2.2.2.2")

	connA.Close(websocket.StatusNormalClosure, "bye")
	waitVisitors(t, connB, "2.2.2.2")
}

func TestRunReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Addr = ln.Addr().String()

	a, err := New(context.Background(), cfg, log.Nop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not fail on busy address")
	}
}

func TestNewWithVisitLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabasePath = t.TempDir() + "/visits.db"

	r := startApp(t, cfg)
	conn := r.join(t, "4.4.4.4")
	waitVisitors(t, conn, "4.4.4.4")
}

func TestDefaultSecretKeepsAdminDisabled(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	for _, secret := range []string{"", "change-me"} {
		cfg := testConfig(t)
		cfg.AdminPasswordHash = hash
		cfg.JWTSecret = secret
		r := startApp(t, cfg)

		claims := auth.Claims{
			Username: cfg.AdminUsername,
			Role:     auth.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    cfg.JWTIssuer,
				Audience:  jwt.ClaimStrings{cfg.JWTAudience},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("change-me"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}

		req, _ := http.NewRequest(http.MethodGet, r.ts.URL+"/api/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("stats request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("secret %q: expected 401 for token signed with the placeholder, got %d", secret, resp.StatusCode)
		}

		login := strings.NewReader(`{"username":"admin","password":"correct horse"}`)
		resp, err = http.Post(r.ts.URL+"/api/admin/login", "application/json", login)
		if err != nil {
			t.Fatalf("login request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("secret %q: expected 403 from disabled login, got %d", secret, resp.StatusCode)
		}
	}
}
