// Package daemon is the CLI's client for the agent daemon API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"wg-sso-gateway/agent/internal/api"
	"wg-sso-gateway/agent/internal/tunnel"
)

const DefaultURL = "http://" + api.DefaultListenAddr

var ErrUnavailable = errors.New("agent daemon is not reachable; is `agent serve` running?")

// Error is a non-2xx answer from the daemon.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type Client struct {
	resty *resty.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		// Finish waits on the gateway and wg-quick.
		SetTimeout(60 * time.Second)
	return &Client{resty: client}
}

func (c *Client) Status(ctx context.Context) (tunnel.Overview, error) {
	var out tunnel.Overview
	err := c.do(ctx, c.resty.R().SetResult(&out), "GET", api.PathStatus)
	return out, err
}

func (c *Client) Connect(ctx context.Context, name string) (api.ConnectResponse, error) {
	var out api.ConnectResponse
	path := strings.Replace(api.PathConnect, "{name}", url.PathEscape(name), 1)
	err := c.do(ctx, c.resty.R().SetResult(&out), "POST", path)
	return out, err
}

func (c *Client) Finish(ctx context.Context, authCode string) (tunnel.Info, error) {
	var out tunnel.Info
	req := c.resty.R().SetBody(api.FinishRequest{AuthCode: authCode}).SetResult(&out)
	err := c.do(ctx, req, "POST", api.PathFinish)
	return out, err
}

func (c *Client) Disconnect(ctx context.Context) (tunnel.Info, error) {
	var out tunnel.Info
	err := c.do(ctx, c.resty.R().SetResult(&out), "POST", api.PathDisconnect)
	return out, err
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) error {
	var perr problem
	resp, err := req.SetContext(ctx).SetError(&perr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !resp.IsError() {
		return nil
	}
	detail := perr.Detail
	if detail == "" {
		detail = perr.Title
	}
	if detail == "" {
		detail = strings.TrimSpace(resp.String())
	}
	return &Error{Status: resp.StatusCode(), Detail: detail}
}
