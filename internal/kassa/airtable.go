package kassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAirtableBaseURL = "https://api.airtable.com"

// AirtableClient is a minimal typed client for the Airtable REST API:
// list-by-formula, create record, patch record fields.
type AirtableClient struct {
	BaseURL string
	APIKey  string
	BaseID  string
	Client  *http.Client
}

func NewAirtableClient(apiKey, baseID string) *AirtableClient {
	return &AirtableClient{
		BaseURL: defaultAirtableBaseURL,
		APIKey:  apiKey,
		BaseID:  baseID,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Record is one Airtable row: opaque record id plus a field map.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type airtableListResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

type airtableWriteRequest struct {
	Fields map[string]any `json:"fields"`
}

// ListRecords fetches all records of a table matching the filterByFormula
// expression, following pagination offsets until exhausted.
func (c *AirtableClient) ListRecords(ctx context.Context, table, formula string) ([]Record, error) {
	var out []Record
	offset := ""
	for {
		values := url.Values{}
		if formula != "" {
			values.Set("filterByFormula", formula)
		}
		if offset != "" {
			values.Set("offset", offset)
		}
		endpoint := c.tableURL(table)
		if enc := values.Encode(); enc != "" {
			endpoint += "?" + enc
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var page airtableListResponse
		if err := c.do(req, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

// CreateRecord appends one row to the table.
func (c *AirtableClient) CreateRecord(ctx context.Context, table string, fields map[string]any) error {
	payload, err := json.Marshal(airtableWriteRequest{Fields: fields})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tableURL(table), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// UpdateRecord patches the named fields of one existing row, leaving the rest
// of the row untouched.
func (c *AirtableClient) UpdateRecord(ctx context.Context, table, recordID string, fields map[string]any) error {
	payload, err := json.Marshal(airtableWriteRequest{Fields: fields})
	if err != nil {
		return err
	}
	endpoint := c.tableURL(table) + "/" + url.PathEscape(recordID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *AirtableClient) tableURL(table string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = defaultAirtableBaseURL
	}
	return fmt.Sprintf("%s/v0/%s/%s", base, url.PathEscape(c.BaseID), url.PathEscape(table))
}

func (c *AirtableClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("airtable %s %s http %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("airtable decode response: %w", err)
	}
	return nil
}

// escapeFormulaValue makes a raw string safe to embed inside a single-quoted
// filterByFormula literal.
func escapeFormulaValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
