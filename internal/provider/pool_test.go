package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
)

type stubClient struct {
	backend Backend
	creds   string
}

func (s *stubClient) Backend() Backend { return s.backend }

func (s *stubClient) Complete(context.Context, *Request) (*chat.Turn, error) {
	turn := chat.AssistantTurn(chat.TextPart("ok"))
	return &turn, nil
}

func (s *stubClient) CompleteStream(context.Context, *Request, EventHandler) error {
	return nil
}

func TestPoolReusesClient(t *testing.T) {
	var built int32
	pool := NewPool(func(backend Backend, credentials string) (Client, error) {
		atomic.AddInt32(&built, 1)
		return &stubClient{backend: backend, creds: credentials}, nil
	})

	first, err := pool.Get(BackendOpenAI, "sk-alpha")
	if err != nil {
		t.Fatal(err)
	}
	second, err := pool.Get(BackendOpenAI, "sk-alpha")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("same backend and credentials must share one client")
	}
	if built != 1 {
		t.Fatalf("factory ran %d times, want 1", built)
	}
}

func TestPoolSeparatesByBackendAndCredentials(t *testing.T) {
	pool := NewPool(func(backend Backend, credentials string) (Client, error) {
		return &stubClient{backend: backend, creds: credentials}, nil
	})

	a, _ := pool.Get(BackendOpenAI, "sk-alpha")
	b, _ := pool.Get(BackendOpenAI, "sk-beta")
	c, _ := pool.Get(BackendAnthropic, "sk-alpha")

	if a == b {
		t.Fatal("different credentials must not share a client")
	}
	if a == c {
		t.Fatal("different backends must not share a client")
	}
	if pool.Len() != 3 {
		t.Fatalf("pool len = %d, want 3", pool.Len())
	}
}

func TestPoolFactoryErrorNotCached(t *testing.T) {
	boom := errors.New("bad key")
	fail := true
	pool := NewPool(func(backend Backend, credentials string) (Client, error) {
		if fail {
			return nil, boom
		}
		return &stubClient{backend: backend}, nil
	})

	if _, err := pool.Get(BackendOpenAI, "sk"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	fail = false
	if _, err := pool.Get(BackendOpenAI, "sk"); err != nil {
		t.Fatalf("failed construction must not poison the key: %v", err)
	}
}

func TestPoolConcurrentFirstUse(t *testing.T) {
	var built int32
	pool := NewPool(func(backend Backend, credentials string) (Client, error) {
		atomic.AddInt32(&built, 1)
		return &stubClient{backend: backend}, nil
	})

	var wg sync.WaitGroup
	clients := make([]Client, 16)
	for i := range clients {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, err := pool.Get(BackendAnthropic, "sk-shared")
			if err != nil {
				t.Error(err)
				return
			}
			clients[n] = c
		}(i)
	}
	wg.Wait()

	for _, c := range clients[1:] {
		if c != clients[0] {
			t.Fatal("all goroutines must observe the same pooled client")
		}
	}
	if pool.Len() != 1 {
		t.Fatalf("pool len = %d, want 1", pool.Len())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Errf(BackendOpenAI, "request", KindTransient, "throttled")) {
		t.Fatal("transient failures are retryable")
	}
	for _, kind := range []ErrorKind{KindTranslation, KindUpstreamProtocol, KindAuth, KindConfig, KindCanceled} {
		if IsRetryable(Errf(BackendOpenAI, "request", kind, "nope")) {
			t.Fatalf("kind %q must not be retryable", kind)
		}
	}
	if IsRetryable(errors.New("unclassified")) {
		t.Fatal("unclassified errors must not be retried")
	}
}
