// Package e2e drives a running trustcore server through Gherkin scenarios.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestContext carries per-scenario HTTP state: the acting account, issued
// tokens, the last response and values remembered between steps.
type TestContext struct {
	BaseURL    string
	SigningKey string
	Issuer     string

	client   *http.Client
	tokens   map[string]string
	actor    string
	status   int
	body     []byte
	response map[string]any
	vars     map[string]string
}

// NewTestContext returns a context targeting baseURL.
func NewTestContext(baseURL, signingKey, issuer string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SigningKey: signingKey,
		Issuer:     issuer,
		client:     &http.Client{Timeout: 10 * time.Second},
		tokens:     map[string]string{},
		vars:       map[string]string{"run": fmt.Sprintf("%x", time.Now().UnixNano())},
	}
}

type claims struct {
	Capabilities []string `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// Grant issues a bearer token for account carrying caps.
func (tc *TestContext) Grant(account string, caps []string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Capabilities: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			Issuer:    tc.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(tc.SigningKey))
	if err != nil {
		return fmt.Errorf("sign token for %s: %w", account, err)
	}
	tc.tokens[account] = signed
	return nil
}

// ActAs makes subsequent requests on behalf of account. An empty account
// sends anonymous requests.
func (tc *TestContext) ActAs(account string) error {
	if account != "" {
		if _, ok := tc.tokens[account]; !ok {
			if err := tc.Grant(account, nil); err != nil {
				return err
			}
		}
	}
	tc.actor = account
	return nil
}

// Remember stores a value for later interpolation as {name}. {run} is
// preset to a per-scenario suffix so scenarios can share a long-lived server.
func (tc *TestContext) Remember(name, value string) { tc.vars[name] = value }

// Expand replaces {name} placeholders with remembered values.
func (tc *TestContext) Expand(s string) string {
	for k, v := range tc.vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

func (tc *TestContext) GET(path string) error { return tc.do(http.MethodGet, path, nil) }

func (tc *TestContext) POST(path string, body any) error { return tc.do(http.MethodPost, path, body) }

func (tc *TestContext) PUT(path string, body any) error { return tc.do(http.MethodPut, path, body) }

func (tc *TestContext) do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.BaseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := tc.tokens[tc.actor]; ok && tc.actor != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.status = resp.StatusCode
	if tc.body, err = io.ReadAll(resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.response = nil
	if len(tc.body) > 0 {
		_ = json.Unmarshal(tc.body, &tc.response)
	}
	return nil
}

// StatusCode returns the last response status.
func (tc *TestContext) StatusCode() int { return tc.status }

// Body returns the raw last response body.
func (tc *TestContext) Body() string { return string(tc.body) }

// GetResponseField resolves a dotted path ("attestor.stake") in the last
// JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	if tc.response == nil {
		return nil, fmt.Errorf("last response is not a JSON object: %s", tc.body)
	}
	var cur any = tc.response
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		if cur, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q not found in %s", field, tc.body)
		}
	}
	return cur, nil
}
