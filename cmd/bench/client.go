// README: Minimal JSON client for the coursier API used by the scenario runner.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type apiClient struct {
	base  string
	httpc *http.Client
}

type apiResponse struct {
	Status  int
	Body    map[string]any
	Latency time.Duration
}

func (r apiResponse) str(key string) string {
	v, _ := r.Body[key].(string)
	return v
}

func (r apiResponse) note() string {
	if msg := r.str("error"); msg != "" {
		return fmt.Sprintf("status=%d error=%q", r.Status, msg)
	}
	return fmt.Sprintf("status=%d", r.Status)
}

func (c *apiClient) call(ctx context.Context, method, path, token string, body any) (apiResponse, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apiResponse{}, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, err
	}
	out := apiResponse{Status: resp.StatusCode, Latency: time.Since(start)}
	if len(raw) > 0 && raw[0] == '{' {
		_ = json.Unmarshal(raw, &out.Body)
	}
	return out, nil
}

// account registers a user and logs in, returning the user id and a bearer token.
func (c *apiClient) account(ctx context.Context, role, email, password string) (string, string, error) {
	reg, err := c.call(ctx, http.MethodPost, "/api/users", "", map[string]any{
		"role":      role,
		"email":     email,
		"full_name": "bench " + role,
		"password":  password,
	})
	if err != nil {
		return "", "", err
	}
	if reg.Status != http.StatusCreated {
		return "", "", fmt.Errorf("register %s: %s", email, reg.note())
	}
	login, err := c.call(ctx, http.MethodPost, "/api/sessions", "", map[string]any{"login": email, "password": password})
	if err != nil {
		return "", "", err
	}
	if login.Status != http.StatusCreated {
		return "", "", fmt.Errorf("login %s: %s", email, login.note())
	}
	return reg.str("id"), login.str("token"), nil
}
