package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tabA   = "https://app.example.com/"
	tabB   = "https://other.example.com/"
	frameA = "https://app.example.com/embedded"
)

func TestTargetMatches(t *testing.T) {
	id := Identity{Kind: ContextContent, TabHref: tabA, FrameHref: frameA}

	assert.True(t, Target{}.Matches(id), "empty target matches everything")
	assert.True(t, Target{Contexts: []ContextKind{ContextContent}}.Matches(id))
	assert.False(t, Target{Contexts: []ContextKind{ContextBackground}}.Matches(id))
	assert.True(t, Target{TabHref: tabA}.Matches(id))
	assert.False(t, Target{TabHref: tabB}.Matches(id))
	assert.True(t, Target{FrameHref: tabA}.Matches(id), "frame href matching is by prefix")
	assert.False(t, Target{FrameHref: frameA + "/deeper"}.Matches(id))
}

func TestFabricScopedDelivery(t *testing.T) {
	f := NewFabric()
	sender := f.Attach(Identity{Kind: ContextBackground})
	topFrame := f.Attach(Identity{Kind: ContextContent, TabHref: tabA, FrameHref: tabA})
	subFrame := f.Attach(Identity{Kind: ContextContent, TabHref: tabA, FrameHref: frameA})
	otherTab := f.Attach(Identity{Kind: ContextContent, TabHref: tabB, FrameHref: tabB})

	var got []string
	handler := func(name string) Handler {
		return func(_ context.Context, payload json.RawMessage) (interface{}, error) {
			got = append(got, name)
			return name, nil
		}
	}
	topFrame.Listen(RouteExecuteRecordAction, handler("top"))
	subFrame.Listen(RouteExecuteRecordAction, handler("sub"))
	otherTab.Listen(RouteExecuteRecordAction, handler("other"))

	resps, err := sender.Send(context.Background(), RouteExecuteRecordAction, "x", Target{
		Contexts:  []ContextKind{ContextContent},
		TabHref:   tabA,
		FrameHref: frameA,
	})
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, []string{"sub"}, got)
	assert.Equal(t, frameA, resps[0].From.FrameHref)

	var echoed string
	require.NoError(t, json.Unmarshal(resps[0].Payload, &echoed))
	assert.Equal(t, "sub", echoed)
}

func TestFabricSenderExcluded(t *testing.T) {
	f := NewFabric()
	ep := f.Attach(Identity{Kind: ContextContent, TabHref: tabA})

	called := false
	ep.Listen(RouteGetHref, func(context.Context, json.RawMessage) (interface{}, error) {
		called = true
		return nil, nil
	})

	resps, err := ep.Send(context.Background(), RouteGetHref, nil, Target{})
	require.NoError(t, err)
	assert.Empty(t, resps)
	assert.False(t, called, "an endpoint never receives its own send")
}

func TestFabricEndpointsWithoutHandlerContributeNothing(t *testing.T) {
	f := NewFabric()
	sender := f.Attach(Identity{Kind: ContextBackground})
	f.Attach(Identity{Kind: ContextContent, TabHref: tabA})

	resps, err := sender.Send(context.Background(), RouteExecuteRecord, nil, Target{})
	require.NoError(t, err)
	assert.Empty(t, resps)
}

func TestFabricHandlerErrorInResponse(t *testing.T) {
	f := NewFabric()
	sender := f.Attach(Identity{Kind: ContextBackground})
	content := f.Attach(Identity{Kind: ContextContent, TabHref: tabA})
	content.Listen(RouteExecuteRecord, func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, errors.New("replay failed")
	})

	resps, err := sender.Send(context.Background(), RouteExecuteRecord, nil, Target{})
	require.NoError(t, err, "a handler error travels in the response, not as a send error")
	require.Len(t, resps, 1)
	assert.Equal(t, "replay failed", resps[0].Error)
}

func TestFabricDetach(t *testing.T) {
	f := NewFabric()
	sender := f.Attach(Identity{Kind: ContextBackground})
	content := f.Attach(Identity{Kind: ContextContent, TabHref: tabA})

	calls := 0
	content.Listen(RouteGetHref, func(context.Context, json.RawMessage) (interface{}, error) {
		calls++
		return tabA, nil
	})

	_, err := sender.Send(context.Background(), RouteGetHref, nil, Target{})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	f.Detach(content)
	_, err = sender.Send(context.Background(), RouteGetHref, nil, Target{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "a detached endpoint receives nothing")
}

func TestFabricListenReplacesHandler(t *testing.T) {
	f := NewFabric()
	sender := f.Attach(Identity{Kind: ContextBackground})
	content := f.Attach(Identity{Kind: ContextContent})

	content.Listen(RouteGetHref, func(context.Context, json.RawMessage) (interface{}, error) {
		return "first", nil
	})
	content.Listen(RouteGetHref, func(context.Context, json.RawMessage) (interface{}, error) {
		return "second", nil
	})

	resps, err := sender.Send(context.Background(), RouteGetHref, nil, Target{})
	require.NoError(t, err)
	require.Len(t, resps, 1)

	var got string
	require.NoError(t, json.Unmarshal(resps[0].Payload, &got))
	assert.Equal(t, "second", got)
}
