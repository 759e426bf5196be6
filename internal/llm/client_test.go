package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

type fakeAdapter struct {
	name string
	reqs []Request
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	_ = ctx
	a.reqs = append(a.reqs, req)
	return Response{Provider: a.name, Model: req.Model, Message: Assistant("ok")}, nil
}

type stepAdapter struct {
	name  string
	i     int
	steps []func() (Response, error)
}

func (a *stepAdapter) Name() string { return a.name }
func (a *stepAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	_ = ctx
	if a.i >= len(a.steps) {
		return Response{Provider: a.name, Model: req.Model, Message: Assistant("ok")}, nil
	}
	fn := a.steps[a.i]
	a.i++
	return fn()
}

func TestClient_DefaultProviderRouting(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "anthropic"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Complete(ctx, Request{Model: "m", Messages: []Message{User("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Fatalf("provider: %q", resp.Provider)
	}
}

func TestClient_ProviderAlias_ClaudeRoutesToAnthropic(t *testing.T) {
	c := NewClient()
	a := &fakeAdapter{name: "anthropic"}
	c.Register(a)

	resp, err := c.Complete(context.Background(), Request{Provider: "claude", Model: "m", Messages: []Message{User("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Fatalf("provider: %q", resp.Provider)
	}
	if len(a.reqs) != 1 || a.reqs[0].Provider != "anthropic" {
		t.Fatalf("adapter should see canonical provider, got %+v", a.reqs)
	}
}

func TestClient_ProviderNamesSorted(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "zeta"})
	c.Register(&fakeAdapter{name: "Claude"})
	got := c.ProviderNames()
	if len(got) != 2 || got[0] != "anthropic" || got[1] != "zeta" {
		t.Fatalf("ProviderNames=%v", got)
	}
	if c.DefaultProvider() != "zeta" {
		t.Fatalf("default provider: %q", c.DefaultProvider())
	}
	c.SetDefaultProvider("claude")
	if c.DefaultProvider() != "anthropic" {
		t.Fatalf("default provider after set: %q", c.DefaultProvider())
	}
}

func TestClient_UnknownProviderError(t *testing.T) {
	c := NewClient()
	_, err := c.Complete(context.Background(), Request{Provider: "missing", Model: "m", Messages: []Message{User("hi")}})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

func TestClient_NoProviderConfiguredError(t *testing.T) {
	c := NewClient()
	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{User("hi")}})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

func TestClient_RejectsInvalidRequest(t *testing.T) {
	c := NewClient()
	a := &fakeAdapter{name: "anthropic"}
	c.Register(a)
	cases := []Request{
		{Messages: []Message{User("hi")}},
		{Model: "m"},
		{Model: "m", Messages: []Message{User("hi")}, Tools: []ToolDefinition{{Name: "9bad"}}},
		{Model: "m", Messages: []Message{User("hi")}, Tools: []ToolDefinition{{Name: "dup"}, {Name: "dup"}}},
	}
	for i, req := range cases {
		if _, err := c.Complete(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if len(a.reqs) != 0 {
		t.Fatalf("adapter should not be called for invalid requests")
	}
}

func TestClient_Complete_DoesNotRetryAutomatically(t *testing.T) {
	c := NewClient()
	err429 := ErrorFromHTTPStatus("anthropic", 429, "rate limited", nil, nil)
	a := &stepAdapter{
		name: "anthropic",
		steps: []func() (Response, error){
			func() (Response, error) { return Response{}, err429 },
			func() (Response, error) { return Response{Provider: "anthropic", Model: "m", Message: Assistant("ok")}, nil },
		},
	}
	c.Register(a)

	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{User("hi")}})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if a.i != 1 {
		t.Fatalf("adapter calls: got %d want 1", a.i)
	}
}

func TestClient_MiddlewareChainOrder(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "anthropic"})

	var order []string
	mw := func(name string) Middleware {
		return func(next CompleteFunc) CompleteFunc {
			return func(ctx context.Context, req Request) (Response, error) {
				order = append(order, name+":req")
				resp, err := next(ctx, req)
				order = append(order, name+":resp")
				return resp, err
			}
		}
	}
	c.Use(mw("mw1"), nil, mw("mw2"))

	if _, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{User("hi")}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Registration order on request; reverse order on response.
	want := []string{"mw1:req", "mw2:req", "mw2:resp", "mw1:resp"}
	if len(order) != len(want) {
		t.Fatalf("order: got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]: got %q want %q (full=%v)", i, order[i], want[i], order)
		}
	}
}

func TestRateLimitMiddleware_CancelledWhileWaiting(t *testing.T) {
	c := NewClient()
	a := &fakeAdapter{name: "anthropic"}
	c.Register(a)
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	c.Use(RateLimit(lim))

	if _, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{User("hi")}}); err != nil {
		t.Fatalf("first call should pass the burst: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Model: "m", Messages: []Message{User("hi")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(a.reqs) != 1 {
		t.Fatalf("adapter calls: got %d want 1", len(a.reqs))
	}
}

func TestRateLimitMiddleware_WouldExceedDeadline(t *testing.T) {
	c := NewClient()
	c.Register(&fakeAdapter{name: "anthropic"})
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	lim.Allow()
	c.Use(RateLimit(lim))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Request{Model: "m", Messages: []Message{User("hi")}})
	if !IsRateLimitError(err) {
		t.Fatalf("expected local RateLimitError, got %T (%v)", err, err)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewClient()
	c.Register(&stepAdapter{
		name: "anthropic",
		steps: []func() (Response, error){
			func() (Response, error) {
				return Response{Provider: "anthropic", Model: "m", Message: Assistant("ok"), Usage: Usage{InputTokens: 3, OutputTokens: 5}}, nil
			},
			func() (Response, error) { return Response{}, ErrorFromHTTPStatus("anthropic", 500, "boom", nil, nil) },
		},
	})
	c.Use(Logging(zap.New(core)))

	req := Request{Model: "m", Messages: []Message{User("hi")}}
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := c.Complete(context.Background(), req); err == nil {
		t.Fatalf("expected error")
	}

	ok := logs.FilterMessage("llm complete").All()
	if len(ok) != 1 {
		t.Fatalf("debug entries: %d", len(ok))
	}
	if got := ok[0].ContextMap()["output_tokens"]; got != int64(5) {
		t.Fatalf("output_tokens field: %#v", got)
	}
	failed := logs.FilterMessage("llm complete failed").All()
	if len(failed) != 1 || failed[0].Level != zapcore.WarnLevel {
		t.Fatalf("warn entries: %+v", failed)
	}
}

func TestNewFromEnv_RegistersConfiguredFactories(t *testing.T) {
	envFactoriesMu.Lock()
	saved := envFactories
	envFactories = nil
	envFactoriesMu.Unlock()
	t.Cleanup(func() {
		envFactoriesMu.Lock()
		envFactories = saved
		envFactoriesMu.Unlock()
	})

	if _, err := NewFromEnv(); err == nil {
		t.Fatalf("expected error with no factories")
	}

	RegisterEnvAdapterFactory(func() (ProviderAdapter, bool, error) { return nil, false, nil })
	RegisterEnvAdapterFactory(func() (ProviderAdapter, bool, error) { return &fakeAdapter{name: "anthropic"}, true, nil })
	RegisterEnvAdapterFactory(nil)

	c, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if c.DefaultProvider() != "anthropic" {
		t.Fatalf("default provider: %q", c.DefaultProvider())
	}
}

func TestNewFromEnv_SurfacesFactoryErrors(t *testing.T) {
	envFactoriesMu.Lock()
	saved := envFactories
	envFactories = nil
	envFactoriesMu.Unlock()
	t.Cleanup(func() {
		envFactoriesMu.Lock()
		envFactories = saved
		envFactoriesMu.Unlock()
	})

	boom := errors.New("bad base url")
	RegisterEnvAdapterFactory(func() (ProviderAdapter, bool, error) { return nil, false, boom })
	if _, err := NewFromEnv(); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}
