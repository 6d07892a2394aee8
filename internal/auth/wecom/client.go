// Package wecom talks to the WeCom enterprise messaging API and verifies WeCom
// OAuth codes against local accounts.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/cache"
	"github.com/onixbyte/helix/internal/obs"
)

const (
	// DefaultHost is the WeCom API host.
	DefaultHost = "https://qyapi.weixin.qq.com"
	// DefaultAuthorizeHost serves the OAuth authorize page linked from
	// registration cards.
	DefaultAuthorizeHost = "https://open.weixin.qq.com"

	tokenCacheName = "we-com"
	tokenMargin    = 5 * time.Minute
	tokenFetchWait = 10 * time.Second
	maxBodyBytes   = 1 << 20

	errcodeInvalidToken = 40014
	errcodeTokenExpired = 42001

	msgNoResponse = "No response from WeCom."

	cardTitle       = "Please click this card to finish registration."
	cardDescription = "Please click this card on your mobile phone to complete registration."
)

// Config identifies the WeCom application.
type Config struct {
	CorpID        string
	Secret        string
	AgentID       int64
	Host          string
	AuthorizeHost string
	RedirectURL   string
}

// APIError is a non-zero errcode returned by WeCom.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom: errcode %d: %s", e.Code, e.Message)
}

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type userInfoResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	UserID  string `json:"userid"`
}

type sendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type textCard struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ButtonText  string `json:"btntxt,omitempty"`
}

type textCardMessage struct {
	ToUser   string   `json:"touser"`
	MsgType  string   `json:"msgtype"`
	AgentID  int64    `json:"agentid"`
	TextCard textCard `json:"textcard"`
}

type cachedToken struct {
	AccessToken string `json:"access_token"`
}

// Client calls the WeCom API with a shared, cached access token.
type Client struct {
	cfg    Config
	client *http.Client
	store  cache.Store
	logger *zap.Logger
	group  singleflight.Group
}

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for WeCom calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient constructs a Client. Corp id and secret are required.
func NewClient(cfg Config, store cache.Store, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.CorpID) == "" || cfg.Secret == "" {
		return nil, errors.New("wecom: corp id and secret are required")
	}
	if store == nil {
		return nil, errors.New("wecom: cache store is required")
	}
	cfg.Host = trimHost(cfg.Host, DefaultHost)
	cfg.AuthorizeHost = trimHost(cfg.AuthorizeHost, DefaultAuthorizeHost)
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func trimHost(host, fallback string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return fallback
	}
	return host
}

func tokenCacheKey() string {
	return cache.Key(tokenCacheName, "access-token")
}

// AccessToken returns the cached access token, fetching a new one on a miss.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	var tok cachedToken
	ok, err := c.store.Get(ctx, tokenCacheKey(), &tok)
	if err != nil {
		c.logger.Warn("access token cache read failed", zap.Error(err))
	}
	if ok && tok.AccessToken != "" {
		obs.CacheRequest(tokenCacheName, true)
		return tok.AccessToken, nil
	}
	obs.CacheRequest(tokenCacheName, false)

	// The shared fetch outlives any single caller; callers stop waiting on
	// their own context.
	ch := c.group.DoChan("token", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchWait)
		defer cancel()
		return c.fetchToken(fctx)
	})
	select {
	case <-ctx.Done():
		return "", auth.UpstreamFailure(msgNoResponse, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// InvalidateToken evicts the cached access token.
func (c *Client) InvalidateToken(ctx context.Context) error {
	return c.store.Delete(ctx, tokenCacheKey())
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("corpid", c.cfg.CorpID)
	q.Set("corpsecret", c.cfg.Secret)

	var resp tokenResponse
	if err := c.call(ctx, "wecom_token", http.MethodGet, "/cgi-bin/gettoken", q, nil, &resp); err != nil {
		return "", err
	}
	if resp.ErrCode != 0 || resp.AccessToken == "" {
		obs.UpstreamRequest("wecom_token", "errcode")
		c.logger.Error("fetch access token rejected", zap.Int("errcode", resp.ErrCode), zap.String("errmsg", resp.ErrMsg))
		return "", auth.UpstreamUnavailable(
			fmt.Sprintf("Cannot fetch access token from WeCom, error code [%d], error message [%s]", resp.ErrCode, resp.ErrMsg),
			&APIError{Code: resp.ErrCode, Message: resp.ErrMsg})
	}
	obs.UpstreamRequest("wecom_token", "success")

	ttl := time.Duration(resp.ExpiresIn)*time.Second - tokenMargin
	if ttl > 0 {
		if err := c.store.Set(ctx, tokenCacheKey(), cachedToken{AccessToken: resp.AccessToken}, ttl); err != nil {
			c.logger.Warn("access token cache write failed", zap.Error(err))
		}
	}
	return resp.AccessToken, nil
}

// OpenID exchanges an OAuth code for the WeCom user id.
func (c *Client) OpenID(ctx context.Context, code string) (string, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("access_token", token)
	q.Set("code", code)

	var resp userInfoResponse
	if err := c.call(ctx, "wecom_userinfo", http.MethodGet, "/cgi-bin/auth/getuserinfo", q, nil, &resp); err != nil {
		return "", err
	}
	if resp.ErrCode != 0 {
		obs.UpstreamRequest("wecom_userinfo", "errcode")
		c.evictOnTokenError(ctx, resp.ErrCode)
		return "", auth.UpstreamUnavailable(
			fmt.Sprintf("Cannot fetch user information from WeCom, error code [%d], error message [%s]", resp.ErrCode, resp.ErrMsg),
			&APIError{Code: resp.ErrCode, Message: resp.ErrMsg})
	}
	if resp.UserID == "" {
		obs.UpstreamRequest("wecom_userinfo", "empty")
		return "", auth.UpstreamUnavailable("Cannot fetch user information from WeCom, response body is empty.", nil)
	}
	obs.UpstreamRequest("wecom_userinfo", "success")
	return resp.UserID, nil
}

// SendRegisterMessage sends the registration text card to the given WeCom
// user ids.
func (c *Client) SendRegisterMessage(ctx context.Context, audiences []string) error {
	if len(audiences) == 0 {
		return errors.New("wecom: no audience")
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("access_token", token)

	msg := textCardMessage{
		ToUser:  strings.Join(audiences, "|"),
		MsgType: "textcard",
		AgentID: c.cfg.AgentID,
		TextCard: textCard{
			Title:       cardTitle,
			Description: cardDescription,
			URL:         c.RegisterURL(),
		},
	}
	var resp sendResponse
	if err := c.call(ctx, "wecom_message", http.MethodPost, "/cgi-bin/message/send", q, msg, &resp); err != nil {
		return err
	}
	if resp.ErrCode != 0 {
		obs.UpstreamRequest("wecom_message", "errcode")
		c.evictOnTokenError(ctx, resp.ErrCode)
		return &APIError{Code: resp.ErrCode, Message: resp.ErrMsg}
	}
	obs.UpstreamRequest("wecom_message", "success")
	return nil
}

// RegisterURL is the OAuth authorize link embedded in registration cards.
func (c *Client) RegisterURL() string {
	q := url.Values{}
	q.Set("appid", c.cfg.CorpID)
	q.Set("redirect_url", c.cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "snsapi_privateinfo")
	q.Set("agentid", strconv.FormatInt(c.cfg.AgentID, 10))
	return c.cfg.AuthorizeHost + "/connect/oauth2/authorize?" + q.Encode() + "#wechat_redirect"
}

func (c *Client) evictOnTokenError(ctx context.Context, code int) {
	if code != errcodeInvalidToken && code != errcodeTokenExpired {
		return
	}
	if err := c.InvalidateToken(ctx); err != nil {
		c.logger.Warn("access token eviction failed", zap.Error(err))
		return
	}
	c.logger.Info("access token evicted", zap.Int("errcode", code))
}

func (c *Client) call(ctx context.Context, upstream, method, path string, q url.Values, body, dst any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return auth.Internal("Cannot reach WeCom.", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Host+path+"?"+q.Encode(), reader)
	if err != nil {
		return auth.Internal("Cannot reach WeCom.", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		obs.UpstreamRequest(upstream, "error")
		// The URL carries the secret or access token; log the path only.
		c.logger.Error("wecom request failed", zap.String("path", path), zap.Error(scrub(err)))
		return auth.UpstreamFailure(msgNoResponse, scrub(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		obs.UpstreamRequest(upstream, "bad_status")
		c.logger.Error("wecom returned bad status", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return auth.UpstreamUnavailable(msgNoResponse, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
		obs.UpstreamRequest(upstream, "decode_error")
		return auth.UpstreamFailure(msgNoResponse, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// scrub drops the request URL from transport errors so query credentials do
// not reach logs.
func scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: "[REDACTED]", Err: ue.Err}
	}
	return err
}
