package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

var (
	_ http.Hijacker = (*responseRecorder)(nil)
	_ http.Flusher  = (*responseRecorder)(nil)
)

func TestResponseRecorder_Status(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"implicit", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("ok")) //nolint:errcheck // test handler
		}, http.StatusOK},
		{"explicit", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }, http.StatusTeapot},
		{"first wins", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			w.WriteHeader(http.StatusBadGateway)
		}, http.StatusAccepted},
		{"nothing written", func(http.ResponseWriter, *http.Request) {}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &responseRecorder{ResponseWriter: httptest.NewRecorder()}
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.code() != tt.want {
				t.Errorf("code() = %d, want %d", rec.code(), tt.want)
			}
		})
	}
}

func TestResponseRecorder_Hijack(t *testing.T) {
	hijacked := make(chan bool, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rec := &responseRecorder{ResponseWriter: w}
		conn, rw, err := rec.Hijack()
		if err != nil {
			hijacked <- false
			return
		}
		defer conn.Close()
		//nolint:errcheck // test writes on the raw connection
		rw.WriteString("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
		rw.Flush() //nolint:errcheck // as above
		hijacked <- rec.hijacked && rec.code() == http.StatusSwitchingProtocols
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204 written on the raw connection", resp.StatusCode)
	}
	if !<-hijacked {
		t.Error("recorder did not hijack the connection")
	}
}

func TestResponseRecorder_HijackUnsupported(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("Hijack on a recorder without a connection should fail")
	}
	if rec.hijacked {
		t.Error("hijacked set after a failed Hijack")
	}
	rec.Flush()
	if !rec.ResponseWriter.(*httptest.ResponseRecorder).Flushed {
		t.Error("Flush did not reach the wrapped writer")
	}
}

func TestResponseRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: inner}
	if rec.Unwrap() != inner {
		t.Error("Unwrap() did not return the wrapped writer")
	}
}

func TestWebSocket_UpgradeThroughRouter(t *testing.T) {
	srv := startedServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+srv.wsCfg.Path, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through router: %v (status %d)", err, status)
	}
	defer conn.Close()
	resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("upgrade status = %d, want 101", resp.StatusCode)
	}
	waitClients(t, srv.Hub(), 1)
}

func TestCORS_AllowedOrigins(t *testing.T) {
	srv := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	router := srv.buildRouter()

	tests := []struct {
		origin string
		want   string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
			if tt.want != "" && !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Request-ID") {
				t.Errorf("allow headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}
