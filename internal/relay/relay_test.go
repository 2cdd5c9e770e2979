package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPayload struct {
	Value string `json:"value"`
}

func TestRequestRoundTrip(t *testing.T) {
	child, top := Pipe()
	top.Handle("greet", func(_ context.Context, payload json.RawMessage) (interface{}, error) {
		var in echoPayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return echoPayload{Value: "hello " + in.Value}, nil
	})

	raw, err := child.Request(context.Background(), "greet", echoPayload{Value: "frame"})
	require.NoError(t, err)

	var out echoPayload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "hello frame", out.Value)
}

func TestRequestHandlerError(t *testing.T) {
	child, top := Pipe()
	top.Handle("fail", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, errors.New("boom")
	})

	_, err := child.Request(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRequestUnknownRoute(t *testing.T) {
	child, _ := Pipe()

	_, err := child.Request(context.Background(), "nowhere", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}

func TestRequestContextTimeout(t *testing.T) {
	child, top := Pipe()
	release := make(chan struct{})
	top.Handle("slow", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := child.Request(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestAfterClose(t *testing.T) {
	child, top := Pipe()
	top.Handle("greet", func(context.Context, json.RawMessage) (interface{}, error) {
		return "hi", nil
	})

	child.Close()
	_, err := child.Request(context.Background(), "greet", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseFailsInFlightRequests(t *testing.T) {
	child, top := Pipe()
	started := make(chan struct{})
	release := make(chan struct{})
	top.Handle("slow", func(context.Context, json.RawMessage) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	defer close(release)

	errCh := make(chan error, 1)
	go func() {
		_, err := child.Request(context.Background(), "slow", nil)
		errCh <- err
	}()

	<-started
	child.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("request did not fail after close")
	}
}

func TestClosedPeerRejectsRequests(t *testing.T) {
	child, top := Pipe()
	top.Handle("greet", func(context.Context, json.RawMessage) (interface{}, error) {
		return "hi", nil
	})
	top.Close()

	_, err := child.Request(context.Background(), "greet", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrClosed.Error())
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	child, top := Pipe()
	top.Handle("echo", func(_ context.Context, payload json.RawMessage) (interface{}, error) {
		var in echoPayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return in, nil
	})

	const n = 16
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			raw, err := child.Request(context.Background(), "echo", echoPayload{Value: string(rune('a' + i))})
			if err != nil {
				results <- "err:" + err.Error()
				return
			}
			var out echoPayload
			if err := json.Unmarshal(raw, &out); err != nil {
				results <- "err:" + err.Error()
				return
			}
			results <- out.Value
		}(i)
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		select {
		case v := <-results:
			seen[v] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for responses")
		}
	}
	for i := 0; i < n; i++ {
		assert.True(t, seen[string(rune('a'+i))], "response %c missing or miscorrelated", 'a'+i)
	}
}
