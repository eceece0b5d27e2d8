// Package controlplane talks to the gateway's login API.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"wg-sso-gateway/internal/protocol"
)

var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Detail)
}

// problem is the error body huma writes.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type Client struct {
	resty *resty.Client
}

func New(baseURL string) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second)
	return &Client{resty: client}
}

func (c *Client) StartLogin(ctx context.Context, req protocol.StartLoginRequest) (protocol.StartLoginResponse, error) {
	var result protocol.StartLoginResponse
	if err := c.post(ctx, protocol.PathLoginStart, req, &result); err != nil {
		return protocol.StartLoginResponse{}, err
	}
	return result, nil
}

func (c *Client) FinishLogin(ctx context.Context, req protocol.FinishLoginRequest) (protocol.FinishLoginResponse, error) {
	var result protocol.FinishLoginResponse
	if err := c.post(ctx, protocol.PathLoginFinish, req, &result); err != nil {
		return protocol.FinishLoginResponse{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var perr problem
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&perr).
		Post(path)
	if err != nil {
		return err
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
	if resp.StatusCode() == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	}
	return &APIError{Status: resp.StatusCode(), Detail: detail}
}
