package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"smartbin/internal/category"
)

const clientTimeout = 5 * time.Second

// ServerClient talks to the backend's polling endpoints.
type ServerClient struct {
	base string
	hc   *http.Client
}

func NewServerClient(baseURL string) *ServerClient {
	return &ServerClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: clientTimeout},
	}
}

func (c *ServerClient) Data(ctx context.Context) (DataSnapshot, error) {
	var raw map[string]float64
	if err := c.getJSON(ctx, "/data", &raw); err != nil {
		return DataSnapshot{}, err
	}
	snap := DataSnapshot{Levels: make(map[category.Category]float64)}
	for k, v := range raw {
		switch k {
		case "lastUpdated":
			snap.LastUpdated = int64(v)
		case "lastBegin":
			snap.LastBegin = int64(v)
		default:
			if cat, err := category.Parse(k); err == nil {
				snap.Levels[cat] = v
			}
		}
	}
	return snap, nil
}

func (c *ServerClient) Levels(ctx context.Context) (map[category.Category]float64, error) {
	var rows []struct {
		Type  string  `json:"type"`
		Level float64 `json:"level"`
	}
	if err := c.getJSON(ctx, "/api/levels", &rows); err != nil {
		return nil, err
	}
	out := make(map[category.Category]float64, len(rows))
	for _, row := range rows {
		if cat, err := category.Parse(row.Type); err == nil {
			out[cat] = row.Level
		}
	}
	return out, nil
}

// LatestClassification returns the display label of the most recent
// classification, or "" when no log exists yet.
func (c *ServerClient) LatestClassification(ctx context.Context) (string, error) {
	var rows []struct {
		Result string `json:"result"`
	}
	if err := c.getJSON(ctx, "/api/logs?limit=1", &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	if cat, err := category.Parse(rows[0].Result); err == nil {
		return category.KoreanLabel(cat), nil
	}
	return rows[0].Result, nil
}

func (c *ServerClient) Begin(ctx context.Context) (int64, error) {
	var resp struct {
		BeginTime int64 `json:"beginTime"`
	}
	if err := c.postJSON(ctx, "/begin", nil, &resp); err != nil {
		return 0, err
	}
	return resp.BeginTime, nil
}

func (c *ServerClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *ServerClient) postJSON(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *ServerClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("kiosk: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ControllerClient talks to the sorting-hardware controller.
type ControllerClient struct {
	base string
	hc   *http.Client
}

func NewControllerClient(baseURL string) *ControllerClient {
	return &ControllerClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *ControllerClient) Start(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/start", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kiosk: controller start: status %d", resp.StatusCode)
	}
	return nil
}

func (c *ControllerClient) EmptyCheckAll(ctx context.Context) (EmptyCheck, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/empty_check_all", nil)
	if err != nil {
		return EmptyCheck{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return EmptyCheck{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return EmptyCheck{}, fmt.Errorf("kiosk: empty check: status %d", resp.StatusCode)
	}
	var raw struct {
		Status string             `json:"status"`
		Levels map[string]float64 `json:"levels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return EmptyCheck{}, err
	}
	check := EmptyCheck{Status: raw.Status}
	if raw.Levels != nil {
		check.Levels = make(map[category.Category]float64, len(raw.Levels))
		for k, v := range raw.Levels {
			if cat, err := category.Parse(k); err == nil {
				check.Levels[cat] = v
			}
		}
	}
	return check, nil
}
