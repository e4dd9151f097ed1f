package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentflow"
)

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes = 4 << 20

// HTTPNodeConfig describes one request. URL, Query and Headers values and
// Body are templates rendered against the store. BodyKey, when set, sends
// the JSON encoding of that store value instead of Body.
type HTTPNodeConfig struct {
	ID      string
	Method  string
	URL     string
	Query   map[string]string
	Headers map[string]string
	Body    string
	BodyKey string

	Timeout          time.Duration
	Client           *http.Client
	MaxResponseBytes int64

	// OutputKey receives the response; empty merges a JSON object response
	// into the store.
	OutputKey  string
	StatusKey  string
	DecodeJSON bool
	// FailOnStatus turns 4xx and 5xx responses into node errors.
	FailOnStatus bool
}

// DefaultHTTPNodeConfig writes the decoded response to "<id>_response" and
// the status code to "<id>_status".
func DefaultHTTPNodeConfig(id string) HTTPNodeConfig {
	return HTTPNodeConfig{
		ID:               id,
		Method:           http.MethodGet,
		Headers:          map[string]string{"Accept": "application/json"},
		Timeout:          30 * time.Second,
		MaxResponseBytes: DefaultMaxResponseBytes,
		OutputKey:        id + "_response",
		StatusKey:        id + "_status",
		DecodeJSON:       true,
	}
}

// HTTPNode is the adapter for search, embedding and tool backends reached
// over HTTP.
type HTTPNode struct {
	cfg     HTTPNodeConfig
	url     storeTemplate
	query   map[string]storeTemplate
	headers map[string]storeTemplate
	body    storeTemplate
}

func NewHTTPNode(cfg HTTPNodeConfig) (*HTTPNode, error) {
	if cfg.ID == "" {
		return nil, errors.New("http node requires id")
	}
	if cfg.URL == "" {
		return nil, errors.New("http node requires url")
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	n := &HTTPNode{cfg: cfg}
	var err error
	if n.url, err = compileTemplate(cfg.ID+".url", cfg.URL); err != nil {
		return nil, err
	}
	if n.query, err = compileTemplateMap(cfg.ID+".query", cfg.Query); err != nil {
		return nil, err
	}
	if n.headers, err = compileTemplateMap(cfg.ID+".header", cfg.Headers); err != nil {
		return nil, err
	}
	if n.body, err = compileTemplate(cfg.ID+".body", cfg.Body); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *HTTPNode) Name() string {
	return n.cfg.ID
}

func (n *HTTPNode) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	req, err := n.newRequest(ctx, store)
	if err != nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("http %s: build request", n.cfg.ID), err)
	}
	resp, err := n.cfg.Client.Do(req)
	if err != nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("http %s: %s %s", n.cfg.ID, req.Method, req.URL.Redacted()), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, n.cfg.MaxResponseBytes))
	if err != nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("http %s: read response", n.cfg.ID), err)
	}
	if n.cfg.FailOnStatus && resp.StatusCode >= http.StatusBadRequest {
		return nil, agentflow.NewNodeError(fmt.Sprintf("http %s: %s returned %d", n.cfg.ID, req.URL.Redacted(), resp.StatusCode), nil)
	}

	if n.cfg.StatusKey != "" {
		store.Set(n.cfg.StatusKey, agentflow.Int(resp.StatusCode))
	}
	writeOutput(store, n.cfg.OutputKey, decodeOutput(payload, n.cfg.DecodeJSON))
	return store, nil
}

func (n *HTTPNode) newRequest(ctx context.Context, store *agentflow.Store) (*http.Request, error) {
	data := store.Snapshot()

	rawURL, err := n.url.render(data)
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(n.query) > 0 {
		q := target.Query()
		for k, t := range n.query {
			v, err := t.render(data)
			if err != nil {
				return nil, err
			}
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	body, err := n.requestBody(store, data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, t := range n.headers {
		v, err := t.render(data)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

func (n *HTTPNode) requestBody(store *agentflow.Store, data map[string]any) (io.Reader, error) {
	if n.cfg.BodyKey != "" {
		v, ok := store.Get(n.cfg.BodyKey)
		if !ok {
			return nil, fmt.Errorf("body key %q is missing", n.cfg.BodyKey)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(encoded), nil
	}
	if n.cfg.Body == "" {
		return nil, nil
	}
	rendered, err := n.body.render(data)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(rendered), nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "http",
		Description: "Sends an HTTP request built from store templates and stores the (JSON-decoded) response.",
		Example:     `node search = http "https://search.local/q?text={{.query}}" output=context fail_on_status=true`,
		Build: func(env Env, args Args) (Node, error) {
			cfg := DefaultHTTPNodeConfig(args.ID)
			cfg.URL = args.String("url", 0, "")
			cfg.Method = args.String("method", -1, cfg.Method)
			cfg.Body = args.String("body", -1, "")
			cfg.BodyKey = args.String("body_key", -1, "")
			if out, ok := args.Named["output"]; ok {
				cfg.OutputKey = out
			}
			cfg.StatusKey = args.String("status", -1, cfg.StatusKey)
			cfg.DecodeJSON = args.Bool("json", -1, cfg.DecodeJSON)
			cfg.FailOnStatus = args.Bool("fail_on_status", -1, false)
			timeout, err := args.Duration("timeout", -1, cfg.Timeout)
			if err != nil {
				return nil, err
			}
			cfg.Timeout = timeout
			cfg.Client = env.HTTPClient
			node, err := NewHTTPNode(cfg)
			if err != nil {
				return nil, err
			}
			return node, nil
		},
	})
}
