package leaderless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"kvstore/internal/clock"
	"kvstore/internal/cluster"
	"kvstore/internal/dispatch"
)

const (
	replicateTimeout = 1 * time.Second
	gossipTimeout    = 1 * time.Second
)

type replicateSetRequest struct {
	Key   string            `json:"key"`
	Value string            `json:"value"`
	Clock map[string]uint64 `json:"clock"`
}

type replicateGetResponse struct {
	Value string            `json:"value"`
	Clock map[string]uint64 `json:"clock"`
	Found bool              `json:"found"`
}

type transport struct {
	client *http.Client
}

func newTransport() *transport {
	return &transport{client: &http.Client{}}
}

func (t *transport) replicateSet(peer cluster.Node, key, value string, vc clock.VectorClock) error {
	body := replicateSetRequest{Key: key, Value: value, Clock: vc.ToDict()}
	var out struct {
		OK bool `json:"ok"`
	}
	return t.post(peer.Address+"/replicate_set", replicateTimeout, body, &out)
}

func (t *transport) replicateGet(peer cluster.Node, key string) (string, clock.VectorClock, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
	defer cancel()

	u := "http://" + peer.Address + "/replicate_get?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", nil, false, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", nil, false, fmt.Errorf("peer %s returned HTTP %d", peer.ID, resp.StatusCode)
	}
	var out replicateGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, false, err
	}
	return out.Value, clock.FromDict(out.Clock), out.Found, nil
}

func (t *transport) gossip(peer cluster.Node, req dispatch.GossipRequest) error {
	var out struct {
		OK bool `json:"ok"`
	}
	return t.post(peer.Address+"/gossip", gossipTimeout, req, &out)
}

func (t *transport) post(path string, timeout time.Duration, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
