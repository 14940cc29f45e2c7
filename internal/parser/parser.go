// Package parser calls the dashboard's natural-language parser and returns
// its result as an action descriptor.
package parser

import (
	"context"
	"strings"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/httpx"
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
)

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: baseURL}
}

type parseRequest struct {
	Input       string `json:"input"`
	UserAddress string `json:"userAddress,omitempty"`
}

type parsedAction struct {
	Type        string         `json:"type"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description"`
}

// Parse sends input to the parser. The descriptor is returned as-is;
// unknown or empty types are left for intake to reject.
func (c *Client) Parse(ctx context.Context, input, userAddress string) (intake.ActionDescriptor, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return intake.ActionDescriptor{}, clierr.New(clierr.CodeUsage, "input is required")
	}
	var resp struct {
		parsedAction
		Action *parsedAction `json:"action"`
	}
	endpoint := httpx.JoinURL(c.baseURL, registry.ParsePath)
	if err := httpx.PostJSON(ctx, c.http, endpoint, parseRequest{Input: text, UserAddress: userAddress}, &resp); err != nil {
		return intake.ActionDescriptor{}, err
	}
	action := resp.parsedAction
	if resp.Action != nil {
		action = *resp.Action
	}
	if action.Description == "" {
		action.Description = text
	}
	return intake.NewDescriptor(intake.ActionKind(action.Type), action.Params, action.Description), nil
}
