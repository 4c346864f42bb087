// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
	"github.com/ironcore-dev/metal-agent/internal/command"
	"github.com/ironcore-dev/metal-agent/internal/errdefs"
	"github.com/ironcore-dev/metal-agent/internal/hardware"
	"github.com/ironcore-dev/metal-agent/internal/metrics"
)

// InventorySource returns the hardware inventory, collecting it again when
// refresh is set. *hardware.InfoCache implements it.
type InventorySource interface {
	Get(ctx context.Context, refresh bool) (*registry.Inventory, error)
}

type Options struct {
	APIURL      string
	CallbackURL string
	// NodeUUID is sent along with the lookup when the node is known upfront.
	NodeUUID          string
	HeartbeatInterval time.Duration
	LookupTimeout     time.Duration
	// RetryInterval is the first delay between failed lookups and heartbeats.
	RetryInterval time.Duration
	// RequestTimeout bounds every request to the registry.
	RequestTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		LookupTimeout:     300 * time.Second,
		RetryInterval:     time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// Agent looks the node up at the registry, registers its inventory and
// keeps heartbeating until stopped.
type Agent struct {
	log       logr.Logger
	opts      Options
	client    *http.Client
	nodes     *hardware.NodeCache
	inventory InventorySource
	forced    chan struct{}
}

// NewAgent creates a new Agent talking to the registry at opts.APIURL.
func NewAgent(log logr.Logger, opts Options, nodes *hardware.NodeCache, inventory InventorySource) *Agent {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	return &Agent{
		log:       log,
		opts:      opts,
		client:    &http.Client{Timeout: opts.RequestTimeout},
		nodes:     nodes,
		inventory: inventory,
		forced:    make(chan struct{}, 1),
	}
}

// ForceHeartbeat makes the heartbeat loop send its next heartbeat right away.
func (a *Agent) ForceHeartbeat() {
	select {
	case a.forced <- struct{}{}:
	default:
	}
}

// CompletionHook returns a command option forcing a heartbeat whenever a
// command completes, so the registry learns about it early.
func (a *Agent) CompletionHook() command.Option {
	return command.WithCompletionHook(func(r *command.Result) {
		a.log.V(1).Info("Command completed, forcing heartbeat", "command", r.Name(), "status", r.Status())
		a.ForceHeartbeat()
	})
}

// Start looks the node up, registers the inventory and heartbeats until ctx
// is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	inventory, err := a.inventory.Get(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to collect inventory: %w", err)
	}

	a.log.Info("Looking up node ...")
	lookup, err := a.Lookup(ctx, inventory)
	if err != nil {
		return err
	}
	a.nodes.Set(&lookup.Node)
	a.log.Info("Node looked up", "uuid", lookup.Node.UUID, "heartbeatTimeout", lookup.Config.HeartbeatTimeout)

	a.log.Info("Registering server ...")
	if err := a.Register(ctx, systemUUID(inventory, lookup.Node.UUID), inventory); err != nil {
		a.log.Error(err, "failed to initially register server")
		return err
	}
	a.log.Info("Server registered", "uuid", lookup.Node.UUID)

	a.heartbeatLoop(ctx, lookup.Node.UUID)
	a.log.Info("Agent stopped.")
	return nil
}

func systemUUID(inventory *registry.Inventory, fallback string) string {
	if inventory.DMI != nil && inventory.DMI.System.UUID != "" {
		return inventory.DMI.System.UUID
	}
	return fallback
}

// Lookup asks the registry for the node context matching the MAC addresses of
// inventory, retrying with backoff until the lookup timeout passed.
func (a *Agent) Lookup(ctx context.Context, inventory *registry.Inventory) (*registry.LookupResponse, error) {
	var macs []string
	for _, iface := range inventory.Interfaces {
		if iface.MACAddress != "" {
			macs = append(macs, iface.MACAddress)
		}
	}
	query := url.Values{"addresses": {strings.Join(macs, ",")}}
	if a.opts.NodeUUID != "" {
		query.Set("node_uuid", a.opts.NodeUUID)
	}
	endpoint := a.opts.APIURL + "/v1/lookup?" + query.Encode()

	lookupCtx, cancel := context.WithTimeout(ctx, a.opts.LookupTimeout)
	defer cancel()

	var (
		result  registry.LookupResponse
		lastErr error
	)
	err := a.retryBackoff().DelayFunc().Until(lookupCtx, true, true, func(ctx context.Context) (bool, error) {
		code, err := a.do(ctx, http.MethodGet, endpoint, nil, &result)
		switch {
		case err != nil:
			lastErr = err
		case code == http.StatusOK:
			return true, nil
		default:
			lastErr = fmt.Errorf("unexpected status code %d", code)
		}
		a.log.Info("Lookup failed, retrying", "url", a.opts.APIURL, "error", lastErr.Error())
		return false, nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, errdefs.NewLookupNodeError("Could not look up node info after %s: %v", a.opts.LookupTimeout, lastErr).Wrap(lastErr)
	}
	if result.Node.UUID == "" {
		return nil, errdefs.NewLookupNodeError("Got invalid node data from the API: missing node UUID")
	}
	return &result, nil
}

// Register posts the inventory to the registry.
func (a *Agent) Register(ctx context.Context, uuid string, inventory *registry.Inventory) error {
	payload := registry.RegistrationPayload{
		SystemUUID: uuid,
		Data:       *inventory,
	}
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, wait.Backoff{
		Steps:    3,
		Duration: a.opts.RetryInterval,
		Factor:   2.0,
		Jitter:   0.1,
	}, func(ctx context.Context) (bool, error) {
		code, err := a.do(ctx, http.MethodPost, a.opts.APIURL+"/register", payload, nil)
		if err != nil {
			a.log.Error(err, "failed to post registration data", "url", a.opts.APIURL)
			lastErr = err
			return false, nil
		}
		if code != http.StatusOK && code != http.StatusCreated {
			lastErr = fmt.Errorf("failed to register server: unexpected status code %d", code)
			a.log.Error(lastErr, "failed to register server", "url", a.opts.APIURL)
			return false, nil
		}
		return true, nil
	})
	if wait.Interrupted(err) && lastErr != nil {
		return lastErr
	}
	return err
}

// Heartbeat tells the registry the agent is alive.
func (a *Agent) Heartbeat(ctx context.Context, uuid string) error {
	payload := registry.HeartbeatPayload{
		CallbackURL:  a.opts.CallbackURL,
		AgentVersion: registry.AgentVersion,
	}
	code, err := a.do(ctx, http.MethodPost, a.opts.APIURL+"/v1/heartbeat/"+uuid, payload, nil)
	switch {
	case err != nil:
		return errdefs.NewHeartbeatError("Error heartbeating to %s: %v", a.opts.APIURL, err).Wrap(err)
	case code == http.StatusConflict:
		return errdefs.NewHeartbeatConflictError("Node %s is locked by the registry", uuid)
	case code != http.StatusAccepted:
		return errdefs.NewHeartbeatError("Invalid status code: %d", code)
	}
	return nil
}

// heartbeatLoop heartbeats every interval. Failed heartbeats are repeated
// after a growing, jittered delay capped at the interval.
func (a *Agent) heartbeatLoop(ctx context.Context, uuid string) {
	backoff := a.heartbeatBackoff()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.forced:
			a.log.V(1).Info("Sending forced heartbeat")
		case <-timer.C:
		}

		next := wait.Jitter(a.opts.HeartbeatInterval, 0.1)
		if err := a.Heartbeat(ctx, uuid); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errdefs.ReasonForError(err) == errdefs.ReasonHeartbeatConflict {
				metrics.HeartbeatsTotal.WithLabelValues("conflict").Inc()
				a.log.Info("Heartbeat conflict, the node is busy in the registry", "uuid", uuid)
			} else {
				metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
				a.log.Error(err, "failed to heartbeat", "uuid", uuid)
			}
			next = backoff.Step()
		} else {
			metrics.HeartbeatsTotal.WithLabelValues("success").Inc()
			a.log.V(1).Info("Heartbeat sent", "uuid", uuid)
			backoff = a.heartbeatBackoff()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)
	}
}

func (a *Agent) retryBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: a.opts.RetryInterval,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      30 * time.Second,
	}
}

func (a *Agent) heartbeatBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: a.opts.RetryInterval,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      a.opts.HeartbeatInterval,
	}
}

// do sends body as JSON and decodes a successful response into out.
func (a *Agent) do(ctx context.Context, method, endpoint string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.log.Error(err, "failed to close response body")
		}
	}()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
