// Package discordapi implements the slice of the upstream REST API the
// indexer needs: gateway discovery, guild/channel listing, and message page
// fetches, all issued through the rate-limit coordinator.
package discordapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/patrick-slimelab/discord-indexer/internal/logx"
	"github.com/patrick-slimelab/discord-indexer/internal/ratelimit"
)

// ChannelType mirrors the subset of Discord's channel type enum this
// indexer cares about (text and announcement channels are backfilled;
// everything else is ignored by the supervisor's seeding step).
type ChannelType int

const (
	ChannelTypeGuildText         ChannelType = 0
	ChannelTypeGuildAnnouncement ChannelType = 5
)

// Channel is the trimmed projection of Discord's channel object this
// indexer reads.
type Channel struct {
	ID      string      `json:"id"`
	GuildID string      `json:"guild_id"`
	Type    ChannelType `json:"type"`
}

// Guild is the trimmed projection of Discord's guild object.
type Guild struct {
	ID string `json:"id"`
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
}

// Client wraps a rate-limit Coordinator with Discord-specific endpoint
// construction, in the shape of the reference client library's restApi
// over its requester (here trimmed to the handful of GET endpoints this
// spec names). Authentication is the coordinator's responsibility: it
// builds every request and sets the Authorization header itself.
type Client struct {
	coordinator *ratelimit.Coordinator
	baseURL     string
	logger      logx.Logger
}

// New creates a Client. baseURL is typically DISCORD_API_BASE
// ("https://discord.com/api/v10").
func New(coordinator *ratelimit.Coordinator, baseURL string, logger logx.Logger) *Client {
	if logger == nil {
		logger = logx.Discard
	}
	return &Client{coordinator: coordinator, baseURL: baseURL, logger: logger}
}

// getJSON issues an authenticated GET through the coordinator and decodes
// the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path, routeKey string, out any) (*http.Response, error) {
	resp, err := c.coordinator.Get(ctx, c.baseURL+path, routeKey)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if out != nil {
		if err := sonic.Unmarshal(body, out); err != nil {
			return resp, fmt.Errorf("GET %s: decode body: %w", path, err)
		}
	}
	return resp, nil
}

// FetchGatewayBot retrieves the recommended gateway URL and shard count.
// Requires authentication, unlike the unauthenticated /gateway endpoint.
func (c *Client) FetchGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	if _, err := c.getJSON(ctx, "/gateway/bot", "GET:/gateway/bot", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListGuilds paginates GET /users/@me/guilds?limit=200&after={id} until a
// short page (fewer than limit results) signals the end, per §4.F step 4.
func (c *Client) ListGuilds(ctx context.Context) ([]Guild, error) {
	const limit = 200
	var all []Guild
	after := ""
	for {
		path := "/users/@me/guilds?limit=" + strconv.Itoa(limit)
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}
		var page []Guild
		if _, err := c.getJSON(ctx, path, "GET:/users/@me/guilds", &page); err != nil {
			return all, err
		}
		all = append(all, page...)
		if len(page) < limit {
			return all, nil
		}
		after = page[len(page)-1].ID
	}
}

// ListGuildChannels returns every channel in a guild. Callers filter by
// Type themselves (the supervisor only seeds backfill for
// ChannelTypeGuildText and ChannelTypeGuildAnnouncement).
func (c *Client) ListGuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var channels []Channel
	if _, err := c.getJSON(ctx, "/guilds/"+guildID+"/channels", "GET:/guilds/:guildId/channels", &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// MessagesPageRouteKey is the normalized route key FetchMessagesPage passes
// to the rate coordinator for the message-page endpoint.
const MessagesPageRouteKey = "GET:/channels/:channelId/messages"

// FetchMessagesPage issues the raw GET for a page of channel history; the
// backfill scheduler owns outcome handling (429 / empty page / etc, per
// §4.D) so this returns the unprocessed *http.Response rather than decoding
// it, mirroring the coordinator's own "caller decides" philosophy.
func (c *Client) FetchMessagesPage(ctx context.Context, channelID string, limit int, before string) (*http.Response, error) {
	path := "/channels/" + channelID + "/messages?limit=" + strconv.Itoa(limit)
	if before != "" {
		path += "&before=" + url.QueryEscape(before)
	}
	return c.coordinator.Get(ctx, c.baseURL+path, MessagesPageRouteKey)
}
