// Package orchestrator fans a single request out over a set of provider
// clients under one of four strategies: single, parallel, fallback and
// fastest-wins.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/consejo-ai/consejo/provider"
)

// Strategy selects how a request is spread over providers.
type Strategy string

const (
	StrategySingle   Strategy = "single"
	StrategyParallel Strategy = "parallel"
	StrategyFallback Strategy = "fallback"
	StrategyFastest  Strategy = "fastest"
)

// Orchestrator holds the provider tag → client mapping and executes
// strategies over it. Clients never return errors; every failure mode is a
// Response value, so strategies compose without per-provider error
// handling.
type Orchestrator struct {
	clients *haxmap.Map[string, *provider.Client]
	order   []string
}

// New builds an orchestrator over the given clients. Registration order is
// the default provider order for strategies that take no explicit list.
func New(clients ...*provider.Client) *Orchestrator {
	o := &Orchestrator{clients: haxmap.New[string, *provider.Client]()}
	for _, c := range clients {
		o.Register(c)
	}
	return o
}

// Register adds or replaces a provider client.
func (o *Orchestrator) Register(c *provider.Client) {
	if _, known := o.clients.Get(c.Name()); !known {
		o.order = append(o.order, c.Name())
	}
	o.clients.Set(c.Name(), c)
}

// Providers returns the registered provider tags in registration order.
func (o *Orchestrator) Providers() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// Client returns the client registered under the given tag.
func (o *Orchestrator) Client(name string) (*provider.Client, bool) {
	return o.clients.Get(name)
}

// Single invokes one specific provider.
func (o *Orchestrator) Single(ctx context.Context, name string, req provider.Request) provider.Response {
	client, ok := o.clients.Get(name)
	if !ok {
		return provider.ErrorResponse(name, fmt.Errorf("provider %s not registered", name))
	}
	return o.invoke(ctx, client, req)
}

// Parallel launches all named providers concurrently and waits for every
// one. The result slice preserves the caller's provider order regardless of
// completion order.
func (o *Orchestrator) Parallel(ctx context.Context, names []string, req provider.Request) []provider.Response {
	if len(names) == 0 {
		names = o.Providers()
	}

	out := make([]provider.Response, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		client, ok := o.clients.Get(name)
		if !ok {
			out[i] = provider.ErrorResponse(name, fmt.Errorf("provider %s not registered", name))
			continue
		}
		wg.Add(1)
		go func(i int, client *provider.Client) {
			defer wg.Done()
			out[i] = o.invoke(ctx, client, req)
		}(i, client)
	}
	wg.Wait()
	return out
}

// Fallback tries providers in order and returns the first success. When
// every provider fails, the last response is returned.
func (o *Orchestrator) Fallback(ctx context.Context, names []string, req provider.Request) provider.Response {
	if len(names) == 0 {
		names = o.Providers()
	}
	var last provider.Response
	for _, name := range names {
		last = o.Single(ctx, name, req)
		if last.Success() {
			return last
		}
		slog.Debug("fallback provider failed, trying next",
			slog.String("provider", name),
			slog.String("status", string(last.Status)),
		)
	}
	if last.Provider == "" {
		last = provider.ErrorResponse("", fmt.Errorf("no providers configured"))
	}
	return last
}

// Fastest launches all named providers concurrently and returns the first
// successful response, cancelling the rest. When nothing succeeds, the
// first completed response is returned.
func (o *Orchestrator) Fastest(ctx context.Context, names []string, req provider.Request) provider.Response {
	if len(names) == 0 {
		names = o.Providers()
	}
	if len(names) == 0 {
		return provider.ErrorResponse("", fmt.Errorf("no providers configured"))
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan provider.Response, len(names))
	for _, name := range names {
		client, ok := o.clients.Get(name)
		if !ok {
			results <- provider.ErrorResponse(name, fmt.Errorf("provider %s not registered", name))
			continue
		}
		go func(client *provider.Client) {
			results <- o.invoke(raceCtx, client, req)
		}(client)
	}

	var firstCompleted provider.Response
	for i := 0; i < len(names); i++ {
		resp := <-results
		if resp.Success() {
			// Winner: abort the losing in-flight HTTP calls.
			cancel()
			return resp
		}
		if i == 0 {
			firstCompleted = resp
		}
	}
	return firstCompleted
}

// invoke shields the orchestrator from anything a client could panic on; a
// panic becomes a synthetic error response for that provider.
func (o *Orchestrator) invoke(ctx context.Context, client *provider.Client, req provider.Request) (resp provider.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("provider call panicked",
				slog.String("provider", client.Name()),
				slog.Any("panic", r),
			)
			resp = provider.ErrorResponse(client.Name(), fmt.Errorf("provider call panicked: %v", r))
		}
	}()
	return client.Complete(ctx, req)
}

// HealthChecks probes every registered provider and reports per-provider
// reachability.
func (o *Orchestrator) HealthChecks(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(o.order))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range o.Providers() {
		client, ok := o.clients.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, client *provider.Client) {
			defer wg.Done()
			ok := client.HealthCheck(ctx)
			mu.Lock()
			out[name] = ok
			mu.Unlock()
		}(name, client)
	}
	wg.Wait()
	return out
}

// HealthSnapshots returns the rolling health view of every provider in
// registration order.
func (o *Orchestrator) HealthSnapshots() []provider.HealthSnapshot {
	snaps := make([]provider.HealthSnapshot, 0, len(o.order))
	for _, name := range o.Providers() {
		if client, ok := o.clients.Get(name); ok {
			snaps = append(snaps, client.HealthSnapshot())
		}
	}
	return snaps
}
