package leader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"kvstore/internal/cluster"
	"kvstore/internal/dispatch"
)

// transport issues the leader-mode RPCs (vote, heartbeat, apply, ping) to a
// peer over HTTP+JSON. Every call carries a bounded timeout — a timeout
// counts as a failure, never as a vote or an ack (§5 Cancellation &
// Timeouts).
type transport struct {
	client *http.Client
}

func newTransport() *transport {
	return &transport{client: &http.Client{}}
}

func (t *transport) requestVote(peer cluster.Node, req dispatch.VoteRequest) (dispatch.VoteResponse, error) {
	var resp dispatch.VoteResponse
	err := t.post(peer.Address+"/cluster/vote", voteTimeout, req, &resp)
	return resp, err
}

func (t *transport) sendHeartbeat(peer cluster.Node, req dispatch.HeartbeatRequest) error {
	var resp dispatch.HeartbeatResponse
	return t.post(peer.Address+"/cluster/heartbeat", voteTimeout, req, &resp)
}

func (t *transport) sendApply(peer cluster.Node, entry dispatch.ApplyEntry) error {
	var ok struct {
		OK bool `json:"ok"`
	}
	return t.post(peer.Address+"/internal/apply", applyTimeout, entry, &ok)
}

func (t *transport) ping(peer cluster.Node) error {
	ctx, cancel := context.WithTimeout(context.Background(), voteTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+peer.Address+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s returned HTTP %d", peer.ID, resp.StatusCode)
	}
	return nil
}

func (t *transport) post(path string, timeout time.Duration, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := "http://" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
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
