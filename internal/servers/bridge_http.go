package servers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/binding"
)

// maxDrainBytes caps how much of a response body is read before closing.
const maxDrainBytes = 1 << 16

// httpBridge sends bound events as HTTP requests to options.host.
type httpBridge struct {
	bridgeBase
}

func newHTTPBridge(deps Deps) *httpBridge {
	b := &httpBridge{}
	b.setupBridge(TypeHTTPBridge, deps, b)
	return b
}

func (b *httpBridge) connect(context.Context, *binding.Binding) error { return nil }

func (b *httpBridge) retarget(context.Context, *binding.Binding) {}

func (b *httpBridge) disconnect() error { return nil }

func (b *httpBridge) linked() bool {
	bnd := b.Binding()
	return bnd != nil && bnd.Context.String("host") != ""
}

func (b *httpBridge) perform(ctx context.Context, opts binding.Context, action map[string]any) error {
	return sendHTTP(ctx, b.deps.HTTPClient, opts, action)
}

// baseURL builds protocol://host:port from bridge options.
func baseURL(opts binding.Context) (string, error) {
	host := opts.String("host")
	if host == "" {
		return "", ErrNoTarget
	}
	scheme := "http"
	switch strings.ToLower(opts.String("protocol")) {
	case "https", "http2":
		scheme = "https"
	}
	if port := opts.Int("port", 0); port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return scheme + "://" + host, nil
}

// sendHTTP performs an {method, path, headers, body} action.
func sendHTTP(ctx context.Context, client *http.Client, opts binding.Context, action map[string]any) error {
	base, err := baseURL(opts)
	if err != nil {
		return err
	}

	method := strings.ToUpper(actionString(action, "method"))
	if method == "" {
		method = http.MethodPost
	}
	path := actionString(action, "path")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body io.Reader
	contentType := ""
	switch v := action["body"].(type) {
	case nil:
	case string:
		body = strings.NewReader(v)
		contentType = "text/plain; charset=utf-8"
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: encoding body: %w", ErrInvalidAction, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := action["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes)) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s %s returned %d", ErrConnectivity, method, path, resp.StatusCode)
	}
	return nil
}
