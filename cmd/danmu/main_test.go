package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/danmu/internal/config"
	"github.com/sadewadee/danmu/internal/protocol"
)

func TestResolveLogOutputStdout(t *testing.T) {
	w, c := resolveLogOutput("stdout")
	if w != os.Stdout {
		t.Fatalf("expected stdout writer")
	}
	if c != nil {
		t.Fatalf("expected nil closer for stdout")
	}
}

func TestResolveLogOutputStderr(t *testing.T) {
	for _, out := range []string{"stderr", ""} {
		w, c := resolveLogOutput(out)
		if w != os.Stderr {
			t.Fatalf("%q: expected stderr writer", out)
		}
		if c != nil {
			t.Fatalf("%q: expected nil closer for stderr", out)
		}
	}
}

func TestResolveLogOutputFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "danmu.log")

	w, c := resolveLogOutput(logPath)
	if w == nil {
		t.Fatalf("expected writer for file output")
	}
	if c == nil {
		t.Fatalf("expected closer for file output")
	}
	defer c.Close()

	f, ok := w.(*os.File)
	if !ok {
		t.Fatalf("expected *os.File writer, got %T", w)
	}

	_, err := io.WriteString(f, "test log\n")
	if err != nil {
		t.Fatalf("write log file: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if string(data) == "" {
		t.Fatalf("expected log file content")
	}
}

func TestResolveLogOutputUnopenable(t *testing.T) {
	w, c := resolveLogOutput(filepath.Join(t.TempDir(), "missing", "dir", "danmu.log"))
	if w != os.Stderr || c != nil {
		t.Fatalf("expected stderr fallback, got %T %v", w, c)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level, format string
		debugVisible  bool
		wantJSON      bool
	}{
		{"debug", "json", true, true},
		{"info", "text", false, false},
		{"bogus", "json", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := setupLogger(tt.level, tt.format, &buf)
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debugVisible {
				t.Errorf("debug enabled: got %v, want %v", got, tt.debugVisible)
			}
			logger.Info("hello", "k", "v")
			if isJSON := json.Valid(bytes.TrimSpace(buf.Bytes())); isJSON != tt.wantJSON {
				t.Errorf("json output: got %v, want %v (%s)", isJSON, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestResolveRoomID(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		cfgID   int64
		want    int64
		wantErr bool
	}{
		{"from args", []string{"7734200"}, 0, 7734200, false},
		{"args win", []string{"5"}, 9, 5, false},
		{"from config", nil, 9, 9, false},
		{"missing", nil, 0, 0, true},
		{"not a number", []string{"abc"}, 0, 0, true},
		{"negative", []string{"-3"}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Room.ID = tt.cfgID
			got, err := resolveRoomID(tt.args, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cmd := rootCmd()
	g := globalFlags{configPath: filepath.Join(t.TempDir(), defaultConfigPath)}
	cfg, err := loadConfig(cmd, &g)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("expected defaults, got %+v", cfg.Output)
	}
}

func TestExplicitMissingConfigFails(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"room", "1", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	cmd.SetOut(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("got %q", out.String())
	}
}

// syncBuffer lets the test read output while the session writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const chatJSON = `{"cmd":"DANMU_MSG","info":[[0,1,25,16777215,0,0,0,"",0,0,0,"",0],"hello world",[123,"alice"],[],[],0,0,0,[],1700000000,0]}`

// newRelay serves a websocket relay that acks auth, pushes one chat
// message and then drains heartbeats until the client closes.
func newRelay(t *testing.T) (host string, port int) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var auth protocol.AuthPacket
		if f, err := protocol.DecodeFrame(data); err != nil || json.Unmarshal(f.Payload, &auth) != nil || auth.UID != 42 {
			conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeRaw([]byte(`{"code":-101}`), protocol.TypeAuthReply, protocol.SchemeRaw, 1))
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeRaw([]byte(`{"code":0}`), protocol.TypeAuthReply, protocol.SchemeRaw, 1))
		conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeRaw([]byte(chatJSON), protocol.TypeMessage, protocol.SchemeRawJSON, 0))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	h, p, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	port, _ = strconv.Atoi(p)
	return h, port
}

func newAPI(t *testing.T, relayHost string, relayPort int) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":-101,"message":"not logged in","data":{"isLogin":false,"wbi_img":{"img_url":"https://x/7cd084941338484aae1ad9425b84077c.png","sub_url":"https://x/4932caff0ff746eab6f01bf08b70ac45.png"}}}`)
	})
	mux.HandleFunc("/xlive/web-room/v1/index/getDanmuInfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":0,"message":"0","data":{"token":"tok","host_list":[{"host":%q,"port":%d,"wss_port":%d,"ws_port":%d}]}}`,
			relayHost, relayPort, relayPort, relayPort)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunWatch(t *testing.T) {
	host, port := newRelay(t)
	apiURL := newAPI(t, host, port)

	cfg := config.Default()
	cfg.API.BaseURL = apiURL
	cfg.API.LiveURL = apiURL
	cfg.Account.UID = 42
	cfg.Relay.Secure = false
	cfg.Relay.HeartbeatInterval = config.Duration(50 * time.Millisecond)
	cfg.Output.TimeZone = "UTC"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	errc := make(chan error, 1)
	go func() {
		errc <- runWatch(ctx, cfg, 7734200, slog.New(slog.NewTextHandler(io.Discard, nil)), &out)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "22:13:20 - alice: hello world") {
		if time.Now().After(deadline) {
			t.Fatalf("message not printed, output %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("runWatch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runWatch did not return after cancel")
	}
}

func TestRunWatchRoomError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.API.LiveURL = srv.URL

	err := runWatch(context.Background(), cfg, 1, slog.New(slog.NewTextHandler(io.Discard, nil)), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "resolving relay for room 1") {
		t.Fatalf("expected room error, got %v", err)
	}
}
