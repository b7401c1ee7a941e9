package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sadewadee/danmu/internal/relay"
)

const (
	DefaultBaseURL   = "https://api.bilibili.com"
	DefaultLiveURL   = "https://api.live.bilibili.com"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// keysTTL bounds how long nav keys are reused before refetching.
	keysTTL = time.Hour
)

var _ relay.RoomFetcher = (*Client)(nil)

// Error is a non-zero code returned by a REST endpoint.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	LiveURL   string
	UserAgent string
	Timeout   time.Duration
	// Cookies from an already logged-in browser session (SESSDATA, bili_jct, DedeUserID, ...).
	Cookies map[string]string
	Logger  *slog.Logger
}

// Client signs and sends the REST calls that hand out relay credentials.
// It caches the WBI keys lazily; the cache belongs to the client.
type Client struct {
	http    *http.Client
	opts    Options
	logger  *slog.Logger
	cookies []*http.Cookie
	now     func() time.Time

	mu     sync.Mutex
	keys   WBIKeys
	keysAt time.Time
}

// New creates a client. Zero option fields take the package defaults.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.LiveURL == "" {
		opts.LiveURL = DefaultLiveURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cookies := make([]*http.Cookie, 0, len(opts.Cookies))
	for name, value := range opts.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		opts:    opts,
		logger:  logger,
		cookies: cookies,
		now:     time.Now,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type navData struct {
	IsLogin bool  `json:"isLogin"`
	Mid     int64 `json:"mid"`
	WBIImg  struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

type danmuInfo struct {
	RefreshRowFactor float64           `json:"refresh_row_factor"`
	RefreshRate      float64           `json:"refresh_rate"`
	MaxDelay         float64           `json:"max_delay"`
	Token            string            `json:"token"`
	HostList         []relay.RelayHost `json:"host_list"`
}

// FetchRoomConnection signs and calls getDanmuInfo for roomID.
func (c *Client) FetchRoomConnection(ctx context.Context, roomID int64) (*relay.RoomConnection, error) {
	ctx, span := otel.Tracer("github.com/sadewadee/danmu/internal/api").Start(ctx, "api.fetch_room_connection")
	defer span.End()
	span.SetAttributes(attribute.Int64("relay.room_id", roomID))

	conn, err := c.fetchRoomConnection(ctx, roomID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("relay.hosts", len(conn.Hosts)))
	span.SetStatus(codes.Ok, "")
	return conn, nil
}

func (c *Client) fetchRoomConnection(ctx context.Context, roomID int64) (*relay.RoomConnection, error) {
	keys, err := c.wbiKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching wbi keys: %w", err)
	}
	params := keys.Sign(url.Values{"id": {strconv.FormatInt(roomID, 10)}}, c.now())

	env, err := c.get(ctx, c.opts.LiveURL+"/xlive/web-room/v1/index/getDanmuInfo", params)
	if err != nil {
		return nil, fmt.Errorf("fetching danmu info: %w", err)
	}
	if env.Code != 0 {
		return nil, &Error{Code: env.Code, Message: env.Message}
	}

	var info danmuInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("decoding danmu info: %w", err)
	}
	c.logger.Debug("room connection resolved", "room_id", roomID, "hosts", len(info.HostList))

	return &relay.RoomConnection{
		RoomID:           roomID,
		RefreshRowFactor: info.RefreshRowFactor,
		RefreshRate:      info.RefreshRate,
		MaxDelay:         info.MaxDelay,
		Token:            info.Token,
		Hosts:            info.HostList,
	}, nil
}

// CurrentUser returns the logged-in account, or UID 0 for an anonymous session.
func (c *Client) CurrentUser(ctx context.Context) (relay.User, error) {
	nav, err := c.nav(ctx)
	if err != nil {
		return relay.User{}, err
	}
	if !nav.IsLogin {
		return relay.User{}, nil
	}
	return relay.User{UID: nav.Mid}, nil
}

func (c *Client) wbiKeys(ctx context.Context) (WBIKeys, error) {
	c.mu.Lock()
	if c.keys.ImgKey != "" && c.now().Sub(c.keysAt) < keysTTL {
		keys := c.keys
		c.mu.Unlock()
		return keys, nil
	}
	c.mu.Unlock()

	// nav refreshes the cache as a side effect.
	if _, err := c.nav(ctx); err != nil {
		return WBIKeys{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys, nil
}

// nav calls the navigation endpoint. It answers -101 for anonymous sessions
// but still publishes the wbi keys, so the code is not treated as a failure.
func (c *Client) nav(ctx context.Context) (*navData, error) {
	env, err := c.get(ctx, c.opts.BaseURL+"/x/web-interface/nav", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching nav: %w", err)
	}
	var nav navData
	if err := json.Unmarshal(env.Data, &nav); err != nil {
		return nil, fmt.Errorf("decoding nav: %w", err)
	}
	if nav.WBIImg.ImgURL == "" || nav.WBIImg.SubURL == "" {
		return nil, &Error{Code: env.Code, Message: "nav response carries no wbi keys"}
	}
	keys := WBIKeys{ImgKey: keyFromURL(nav.WBIImg.ImgURL), SubKey: keyFromURL(nav.WBIImg.SubURL)}

	c.mu.Lock()
	c.keys = keys
	c.keysAt = c.now()
	c.mu.Unlock()
	return &nav, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*envelope, error) {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Referer", "https://live.bilibili.com/")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Path)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", req.URL.Path, err)
	}
	return &env, nil
}
