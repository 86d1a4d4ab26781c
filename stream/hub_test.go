package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oyin-bo/three-g-sub002/compute"
	"github.com/oyin-bo/three-g-sub002/diag"
	"github.com/oyin-bo/three-g-sub002/particle"
	"github.com/oyin-bo/three-g-sub002/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub(t *testing.T) {
	ctx, err := compute.NewContext(compute.NewCPU(2))
	require.NoError(t, err)
	defer ctx.Close()

	ps := particle.Uniform(20, 1, 1, 6)
	pos, vel := particle.Pack(ps)
	s, err := sim.New(ctx, sim.DefaultParams(false), pos, vel)
	require.NoError(t, err)
	defer s.Dispose()
	start := diag.Summarize(s.Positions(), s.Velocities())

	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	require.NoError(t, s.Step())
	hub.Broadcast(NewFrame(s, start))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "step", f.Type)
	assert.Equal(t, 1, f.Step)
	assert.Equal(t, 20, f.Summary.Count)
	assert.Equal(t, s.Bounds().Max.X, f.Bounds[1][0])
	assert.Equal(t, 1, hub.Clients())

	require.NoError(t, s.Step())
	hub.Broadcast(NewFrame(s, start))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, 2, f.Step)
	assert.Equal(t, 2, f.Drift.Step)
	assert.InDelta(t, 0, f.Drift.Mass, 1e-12)

	paused := true
	require.NoError(t, conn.WriteJSON(Control{Paused: &paused}))
	require.Eventually(t, hub.Paused, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestHubPauseReleasedOnDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 2 },
		time.Second, 5*time.Millisecond)

	paused := true
	require.NoError(t, a.WriteJSON(Control{Paused: &paused}))
	require.Eventually(t, hub.Paused, time.Second, 5*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 },
		time.Second, 5*time.Millisecond)
	assert.True(t, hub.Paused())

	b.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 },
		time.Second, 5*time.Millisecond)
	assert.False(t, hub.Paused())
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	var f Frame
	assert.Error(t, conn.ReadJSON(&f))
}
