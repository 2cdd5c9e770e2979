package chrome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automator/internal/actions"
	"automator/internal/relay"
)

const (
	captureTopHref   = "https://app.example.com/"
	captureChildHref = "https://app.example.com/embedded"
)

func newStagingSession(t *testing.T) (*CaptureSession, *actions.Parser) {
	t.Helper()
	parser := actions.NewParser(200 * time.Millisecond)
	gesture := actions.StopGesture{Modifier: "Shift", Key: "S"}
	return NewCaptureSession(nil, parser, gesture, time.Second, nil), parser
}

func capturedClick(frameHref string, ts int64) actions.Action {
	a := actions.Action{
		ActionType: actions.TypeMouse,
		EventType:  actions.MouseClick,
		FrameHref:  frameHref,
		Timestamp:  ts,
		Selector:   "#save",
	}
	if frameHref == captureTopHref {
		a.TabHref = captureTopHref
	}
	return a
}

func TestStageTopFrameEventGoesStraightToParser(t *testing.T) {
	s, parser := newStagingSession(t)

	require.NoError(t, s.stage(context.Background(), captureTopHref, capturedClick(captureTopHref, 1)))

	assert.Equal(t, 1, parser.StagedCount())
	assert.Empty(t, s.children, "top-frame events need no forwarding path")
}

func TestStageEmbeddedFrameEventArrivesOverRelay(t *testing.T) {
	s, parser := newStagingSession(t)
	ctx := context.Background()

	require.NoError(t, s.stage(ctx, captureTopHref, capturedClick(captureTopHref, 1)))
	require.NoError(t, s.stage(ctx, captureTopHref, capturedClick(captureChildHref, 2)))
	require.NoError(t, s.stage(ctx, captureTopHref, capturedClick(captureChildHref, 3)))
	other := capturedClick("https://app.example.com/widget", 4)
	require.NoError(t, s.stage(ctx, captureTopHref, other))

	assert.Equal(t, 4, parser.StagedCount(), "embedded-frame events land in the top parser")
	assert.Len(t, s.children, 2, "one forwarding path per embedded frame")

	// the forwarding parsers keep nothing of their own
	for _, feed := range s.children {
		assert.Equal(t, 0, feed.parser.StagedCount())
	}
}

func TestStageEmbeddedFrameFailsOnClosedRelay(t *testing.T) {
	s, parser := newStagingSession(t)
	ctx := context.Background()

	require.NoError(t, s.stage(ctx, captureTopHref, capturedClick(captureChildHref, 1)))
	require.Equal(t, 1, parser.StagedCount())

	feed := s.childFor(captureChildHref)
	feed.child.Close()
	feed.top.Close()

	err := s.stage(ctx, captureTopHref, capturedClick(captureChildHref, 2))
	assert.ErrorIs(t, err, relay.ErrClosed)
	assert.Equal(t, 1, parser.StagedCount())
}

func TestStageRejectsInvalidCapturedEvent(t *testing.T) {
	s, parser := newStagingSession(t)

	bad := actions.Action{ActionType: "gesture", FrameHref: captureTopHref}
	err := s.stage(context.Background(), captureTopHref, bad)
	assert.ErrorIs(t, err, actions.ErrUnsupportedAction)
	assert.Equal(t, 0, parser.StagedCount())
}
