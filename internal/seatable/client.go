// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package seatable is the HTTP client for the SeaTable-compatible content
// store. One Client serves one base (the HR content base or the phone-book
// base), with its short-lived app access token cached in-process.
package seatable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/olegiv/onboardbot/internal/model"
)

// tokenTTL is how long an app access token is reused before a new one is
// requested. The server issues tokens valid for three days.
const tokenTTL = 48 * time.Hour

// Client talks to one SeaTable base.
type Client struct {
	serverURL string
	apiToken  string
	http      *http.Client
	logger    *slog.Logger

	mu        sync.Mutex
	token     *appToken
	fetchedAt time.Time
}

// appToken is the payload of the app-access-token endpoint.
type appToken struct {
	AccessToken  string `json:"access_token"`
	DtableServer string `json:"dtable_server"`
	DtableUUID   string `json:"dtable_uuid"`
	DtableName   string `json:"dtable_name"`
	WorkspaceID  int    `json:"workspace_id"`
}

// New creates a client for the base behind the given API token.
func New(serverURL, apiToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiToken:  apiToken,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// FetchRows returns all rows of a table, parsed into the domain model.
func (c *Client) FetchRows(ctx context.Context, tableID string) ([]model.Row, error) {
	raw, err := c.FetchRawRows(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return model.ParseRows(raw), nil
}

// FetchRawRows returns all rows of a table as raw records.
func (c *Client) FetchRawRows(ctx context.Context, tableID string) ([]map[string]any, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		Rows []map[string]any `json:"rows"`
	}
	endpoint := c.dtableURL(tok, "rows") + "?" + url.Values{"table_id": {tableID}}.Encode()
	if err := c.do(ctx, http.MethodGet, endpoint, tok, nil, &result); err != nil {
		return nil, fmt.Errorf("fetching rows of table %s: %w", tableID, err)
	}
	return result.Rows, nil
}

// Metadata returns the base metadata (tables and their columns).
func (c *Client) Metadata(ctx context.Context) (map[string]any, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := c.do(ctx, http.MethodGet, c.dtableURL(tok, "metadata"), tok, nil, &result); err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	return result, nil
}

// ListColumns returns the column names of a table.
func (c *Client) ListColumns(ctx context.Context, tableID string) ([]string, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		Columns []struct {
			Name string `json:"name"`
		} `json:"columns"`
	}
	endpoint := c.dtableURL(tok, "columns") + "?" + url.Values{"table_id": {tableID}}.Encode()
	if err := c.do(ctx, http.MethodGet, endpoint, tok, nil, &result); err != nil {
		return nil, fmt.Errorf("listing columns of table %s: %w", tableID, err)
	}

	names := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		names[i] = col.Name
	}
	return names, nil
}

// AddColumn creates a text column on a table.
func (c *Client) AddColumn(ctx context.Context, tableID, name string) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"table_id":    tableID,
		"column_name": name,
		"column_type": "text",
	}
	if err := c.do(ctx, http.MethodPost, c.dtableURL(tok, "columns"), tok, body, nil); err != nil {
		return fmt.Errorf("creating column %q on table %s: %w", name, tableID, err)
	}
	return nil
}

// AppendRow adds one row to a table.
func (c *Client) AppendRow(ctx context.Context, tableID string, row map[string]any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"table_id": tableID,
		"rows":     []map[string]any{row},
	}
	if err := c.do(ctx, http.MethodPost, c.dtableURL(tok, "rows"), tok, body, nil); err != nil {
		return fmt.Errorf("appending row to table %s: %w", tableID, err)
	}
	return nil
}

// UpdateRow updates columns of one row.
func (c *Client) UpdateRow(ctx context.Context, tableID, rowID string, row map[string]any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"table_id": tableID,
		"row_id":   rowID,
		"row":      row,
	}
	if err := c.do(ctx, http.MethodPut, c.dtableURL(tok, "rows"), tok, body, nil); err != nil {
		return fmt.Errorf("updating row %s of table %s: %w", rowID, tableID, err)
	}
	return nil
}

// accessToken returns the cached app token, refreshing it on expiry.
func (c *Client) accessToken(ctx context.Context) (*appToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && time.Since(c.fetchedAt) < tokenTTL {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.serverURL+"/api/v2.1/dtable/app-access-token/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting app access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("app access token request failed: %s: %s", resp.Status, body)
	}

	var tok appToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding app access token: %w", err)
	}

	c.token = &tok
	c.fetchedAt = time.Now()
	c.logger.Debug("app access token refreshed", "base", tok.DtableName)
	return &tok, nil
}

func (c *Client) dtableURL(tok *appToken, resource string) string {
	return fmt.Sprintf("%s/api/v1/dtables/%s/%s/",
		strings.TrimRight(tok.DtableServer, "/"), tok.DtableUUID, resource)
}

func (c *Client) do(ctx context.Context, method, endpoint string, tok *appToken, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
