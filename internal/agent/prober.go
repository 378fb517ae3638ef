package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Prober reads the status of one agent.
type Prober interface {
	Probe(ctx context.Context) AgentStatus
}

// RemoteProber reads an agent's status over GET /status. Any failure to get
// a well-formed answer reports the agent as unreachable.
type RemoteProber struct {
	Name    string
	BaseURL string
	Client  *http.Client
}

// NewRemoteProber creates a prober for the agent served at baseURL.
func NewRemoteProber(name, baseURL string) *RemoteProber {
	return &RemoteProber{
		Name:    name,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Probe implements Prober.
func (p *RemoteProber) Probe(ctx context.Context) AgentStatus {
	st, err := p.fetch(ctx)
	if err != nil {
		return AgentStatus{Name: p.Name, State: StateUnreachable}
	}
	return st
}

func (p *RemoteProber) fetch(ctx context.Context) (AgentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/status", nil)
	if err != nil {
		return AgentStatus{}, err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return AgentStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AgentStatus{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return AgentStatus{}, fmt.Errorf("failed to decode status: %w", err)
	}

	name := body.Agent
	if name == "" {
		name = p.Name
	}
	return AgentStatus{Name: name, State: body.Status, LastHeartbeat: body.LastHeartbeat}, nil
}
