// Package friends resolves friend names to addresses through the dashboard
// friend directory.
package friends

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/rwa-orchestrator/internal/cache"
	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/httpx"
	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
)

type Friend struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// resolutionCache is the part of cache.Store the resolver uses.
type resolutionCache interface {
	Lookup(owner, name string) (cache.Entry, bool, error)
	Put(owner, name, address string, ttl time.Duration) error
	Forget(owner, name string) error
}

type Client struct {
	http    *httpx.Client
	baseURL string
	cache   resolutionCache
	ttl     time.Duration
	log     logrus.FieldLogger
}

type Option func(*Client)

// WithCache serves repeat lookups from store for ttl.
func WithCache(store *cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		if store != nil && ttl > 0 {
			c.cache, c.ttl = store, ttl
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func New(httpClient *httpx.Client, baseURL string, opts ...Option) *Client {
	c := &Client{http: httpClient, baseURL: baseURL, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the address for nameOrAddress as seen by owner. Hex
// addresses pass through without a lookup.
func (c *Client) Resolve(ctx context.Context, owner, nameOrAddress string) (common.Address, error) {
	target := strings.TrimSpace(nameOrAddress)
	if target == "" {
		return common.Address{}, clierr.New(clierr.CodeResolution, "recipient is empty")
	}
	if common.IsHexAddress(target) {
		return common.HexToAddress(target), nil
	}
	if !common.IsHexAddress(owner) {
		return common.Address{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("cannot resolve %q without an owner address", target))
	}
	log := c.log.WithFields(logrus.Fields{"owner": owner, "name": target})

	if c.cache != nil {
		entry, ok, err := c.cache.Lookup(owner, target)
		if err != nil {
			log.WithError(err).Debug("friend cache lookup failed")
		} else if ok {
			log.WithField("age", entry.Age.String()).Debug("friend resolved from cache")
			return common.HexToAddress(entry.Address), nil
		}
	}

	var resp struct {
		FriendAddress string `json:"friendAddress"`
		Address       string `json:"address"`
	}
	endpoint := httpx.JoinURL(c.baseURL, registry.FriendsPath, url.PathEscape(owner), "resolve", url.PathEscape(target))
	if err := httpx.GetJSON(ctx, c.http, endpoint, &resp); err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeResolution, fmt.Sprintf("resolve friend %q", target), err)
	}
	resolved := strings.TrimSpace(resp.FriendAddress)
	if resolved == "" {
		resolved = strings.TrimSpace(resp.Address)
	}
	if !common.IsHexAddress(resolved) {
		return common.Address{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("friend %q has no valid address", target))
	}

	if c.cache != nil {
		if err := c.cache.Put(owner, target, resolved, c.ttl); err != nil {
			log.WithError(err).Debug("friend cache write failed")
		}
	}
	log.WithField("address", resolved).Debug("friend resolved")
	return common.HexToAddress(resolved), nil
}

// Refresh drops any cached address for name and resolves it again from the
// directory.
func (c *Client) Refresh(ctx context.Context, owner, nameOrAddress string) (common.Address, error) {
	if c.cache != nil && !common.IsHexAddress(strings.TrimSpace(nameOrAddress)) {
		if err := c.cache.Forget(owner, strings.TrimSpace(nameOrAddress)); err != nil {
			c.log.WithError(err).Debug("friend cache forget failed")
		}
	}
	return c.Resolve(ctx, owner, nameOrAddress)
}

// List returns owner's friends from the directory.
func (c *Client) List(ctx context.Context, owner string) ([]Friend, error) {
	if !common.IsHexAddress(owner) {
		return nil, clierr.New(clierr.CodeUsage, "owner must be a valid EVM address")
	}
	var resp struct {
		Friends []struct {
			Name          string `json:"name"`
			Address       string `json:"address"`
			FriendAddress string `json:"friendAddress"`
		} `json:"friends"`
	}
	endpoint := httpx.JoinURL(c.baseURL, registry.FriendsPath, url.PathEscape(owner))
	if err := httpx.GetJSON(ctx, c.http, endpoint, &resp); err != nil {
		return nil, err
	}
	out := make([]Friend, 0, len(resp.Friends))
	for _, f := range resp.Friends {
		addr := f.Address
		if addr == "" {
			addr = f.FriendAddress
		}
		out = append(out, Friend{Name: f.Name, Address: addr})
	}
	return out, nil
}
