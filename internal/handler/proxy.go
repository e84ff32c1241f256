package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// maxUpstreamResponse bounds how much of an upstream reply is relayed.
const maxUpstreamResponse = 32 << 20

// Upstream forwards JSON-RPC bodies verbatim to an Ethereum node.
type Upstream struct {
	url    string
	client *http.Client
}

// NewUpstream creates an Upstream for url. A nil client gets a 30s timeout.
func NewUpstream(url string, client *http.Client) *Upstream {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Upstream{url: url, client: client}
}

// Forward posts body to the node and relays its reply to w.
func (u *Upstream) Forward(ctx context.Context, w http.ResponseWriter, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "upstream request failed")
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, io.LimitReader(resp.Body, maxUpstreamResponse))
	return err
}
