package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type fakeAPI struct {
	navHits   atomic.Int32
	infoCode  int
	loggedIn  bool
	gotCookie atomic.Value
	gotQuery  atomic.Value
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		f.navHits.Add(1)
		if c, err := r.Cookie("SESSDATA"); err == nil {
			f.gotCookie.Store(c.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		if f.loggedIn {
			w.Write([]byte(`{"code":0,"message":"0","data":{"isLogin":true,"mid":777,"wbi_img":{"img_url":"https://i0.example/bfs/wbi/7cd084941338484aae1ad9425b84077c.png","sub_url":"https://i0.example/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
			return
		}
		w.Write([]byte(`{"code":-101,"message":"not logged in","data":{"isLogin":false,"wbi_img":{"img_url":"https://i0.example/bfs/wbi/7cd084941338484aae1ad9425b84077c.png","sub_url":"https://i0.example/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
	})
	mux.HandleFunc("/xlive/web-room/v1/index/getDanmuInfo", func(w http.ResponseWriter, r *http.Request) {
		f.gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		if f.infoCode != 0 {
			w.Write([]byte(`{"code":-352,"message":"risk control","data":null}`))
			return
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{"refresh_row_factor":0.125,"refresh_rate":100,"max_delay":5000,"token":"tok-abc","host_list":[{"host":"a.chat.example.com","port":2243,"wss_port":443,"ws_port":2244},{"host":"b.chat.example.com","port":2243,"wss_port":443,"ws_port":2244}]}}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := New(Options{
		BaseURL: srv.URL,
		LiveURL: srv.URL,
		Cookies: map[string]string{"SESSDATA": "sess"},
	})
	c.now = func() time.Time { return time.Unix(1702204169, 0) }
	return c
}

func TestFetchRoomConnection(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(t, f)

	conn, err := c.FetchRoomConnection(context.Background(), 7734200)
	if err != nil {
		t.Fatalf("FetchRoomConnection: %v", err)
	}
	if conn.RoomID != 7734200 || conn.Token != "tok-abc" {
		t.Errorf("unexpected connection %+v", conn)
	}
	if conn.RefreshRowFactor != 0.125 || conn.RefreshRate != 100 || conn.MaxDelay != 5000 {
		t.Errorf("unexpected refresh params %+v", conn)
	}
	if len(conn.Hosts) != 2 || conn.Hosts[0].Host != "a.chat.example.com" || conn.Hosts[0].WSSPort != 443 || conn.Hosts[0].WSPort != 2244 {
		t.Errorf("unexpected hosts %+v", conn.Hosts)
	}

	q, _ := f.gotQuery.Load().(url.Values)
	if q.Get("id") != "7734200" || q.Get("wts") != "1702204169" || len(q.Get("w_rid")) != 32 {
		t.Errorf("request not signed: %v", q)
	}
	if got, _ := f.gotCookie.Load().(string); got != "sess" {
		t.Errorf("cookie not forwarded: %q", got)
	}
}

func TestFetchRoomConnectionCachesKeys(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		if _, err := c.FetchRoomConnection(context.Background(), 1); err != nil {
			t.Fatalf("FetchRoomConnection: %v", err)
		}
	}
	if n := f.navHits.Load(); n != 1 {
		t.Errorf("nav fetched %d times, want 1", n)
	}

	c.now = func() time.Time { return time.Unix(1702204169, 0).Add(2 * keysTTL) }
	if _, err := c.FetchRoomConnection(context.Background(), 1); err != nil {
		t.Fatalf("FetchRoomConnection: %v", err)
	}
	if n := f.navHits.Load(); n != 2 {
		t.Errorf("nav fetched %d times after expiry, want 2", n)
	}
}

func TestFetchRoomConnectionErrorCode(t *testing.T) {
	f := &fakeAPI{infoCode: -352}
	c := newTestClient(t, f)

	_, err := c.FetchRoomConnection(context.Background(), 1)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != -352 {
		t.Errorf("Code: got %d, want -352", apiErr.Code)
	}
}

func TestCurrentUser(t *testing.T) {
	tests := []struct {
		name     string
		loggedIn bool
		want     int64
	}{
		{"anonymous", false, 0},
		{"logged in", true, 777},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{loggedIn: tt.loggedIn})
			u, err := c.CurrentUser(context.Background())
			if err != nil {
				t.Fatalf("CurrentUser: %v", err)
			}
			if u.UID != tt.want {
				t.Errorf("UID: got %d, want %d", u.UID, tt.want)
			}
		})
	}
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, LiveURL: srv.URL})
	if _, err := c.FetchRoomConnection(context.Background(), 1); err == nil {
		t.Fatal("expected error for 403")
	}
}
