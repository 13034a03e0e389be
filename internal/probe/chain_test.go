package probe

import (
	"context"
	"errors"
	"testing"
)

func found(v string) Func[string] {
	return func(ctx context.Context) (string, bool, error) { return v, true, nil }
}

func missing(calls *int) Func[string] {
	return func(ctx context.Context) (string, bool, error) {
		*calls++
		return "", false, nil
	}
}

func TestChainRun(t *testing.T) {
	var misses int
	c := NewChain[string]("send button").
		Add("primary", missing(&misses)).
		Add("fallback", found("btn")).
		Add("never", found("other"))

	v, name, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if v != "btn" || name != "fallback" {
		t.Errorf("Run() = %q via %q, want btn via fallback", v, name)
	}
	if misses != 1 {
		t.Errorf("primary tried %d times, want 1", misses)
	}
	if got := c.Names(); len(got) != 3 || got[0] != "primary" {
		t.Errorf("Names() = %v", got)
	}
}

func TestChainNoMatch(t *testing.T) {
	var misses int
	c := NewChain[string]("input").Add("a", missing(&misses)).Add("b", missing(&misses))
	_, _, err := c.Run(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	if misses != 2 {
		t.Errorf("tried %d strategies, want 2", misses)
	}

	if _, _, err := NewChain[int]("empty").Run(context.Background()); !errors.Is(err, ErrNoMatch) {
		t.Errorf("empty chain err = %v, want ErrNoMatch", err)
	}
}

func TestChainErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	c := NewChain[string]("state").
		Add("broken", func(ctx context.Context) (string, bool, error) { return "", false, boom }).
		Add("ok", found("x"))

	_, name, err := c.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if name != "broken" {
		t.Errorf("failing strategy = %q, want broken", name)
	}
}

func TestChainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var misses int
	c := NewChain[string]("x").Add("a", missing(&misses))
	if _, _, err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if misses != 0 {
		t.Error("no strategy should run on a cancelled context")
	}
}
