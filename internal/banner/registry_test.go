package banner_test

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/rollcall/internal/banner"
	"github.com/d9705996/rollcall/internal/banner/bannertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, idleTTL time.Duration) (*banner.Registry, *bannertest.Clock) {
	t.Helper()
	clk := bannertest.NewClock(epoch)
	reg := banner.NewRegistry(banner.RegistryConfig{
		Clock:   clk,
		IdleTTL: idleTTL,
		Logger:  slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	t.Cleanup(func() { reg.Shutdown() })
	return reg, clk
}

func TestRegistry_OpenActivates(t *testing.T) {
	reg, clk := newTestRegistry(t, 0)

	id, snap := reg.Open(banner.Input{})
	require.NotEmpty(t, id)
	assert.Equal(t, banner.DefaultName, snap.Name)
	assert.True(t, snap.Visible)
	assert.Len(t, snap.Decorations, banner.DecorationCount)
	assert.Equal(t, 1, reg.Len())

	clk.Advance(banner.VisibleFor)
	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, banner.StateHidden, got.State)
}

func TestRegistry_ChangeRestarts(t *testing.T) {
	reg, clk := newTestRegistry(t, 0)
	id, _ := reg.Open(banner.Input{Name: "Ana"})
	clk.Advance(banner.VisibleFor)

	snap, err := reg.Change(id, banner.Input{Name: "Ana"})
	require.NoError(t, err)
	assert.True(t, snap.Visible)
	assert.Equal(t, "Ana", snap.Name)
	assert.Equal(t, 1, clk.Pending())
}

func TestRegistry_CloseTearsDown(t *testing.T) {
	reg, clk := newTestRegistry(t, 0)
	id, _ := reg.Open(banner.Input{Name: "Ana"})

	snap, err := reg.Close(id)
	require.NoError(t, err)
	assert.Equal(t, banner.StateTornDown, snap.State)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, clk.Pending())

	_, err = reg.Close(id)
	assert.ErrorIs(t, err, banner.ErrNotFound)
}

func TestRegistry_UnknownID(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, banner.ErrNotFound)
	_, err = reg.Change("missing", banner.Input{})
	assert.ErrorIs(t, err, banner.ErrNotFound)
	_, err = reg.Subscribe("missing", func(banner.Snapshot) {})
	assert.ErrorIs(t, err, banner.ErrNotFound)
}

func TestRegistry_SweepRemovesIdle(t *testing.T) {
	reg, clk := newTestRegistry(t, time.Minute)
	idle, _ := reg.Open(banner.Input{Name: "Idle"})
	busy, _ := reg.Open(banner.Input{Name: "Busy"})

	clk.Advance(45 * time.Second)
	_, err := reg.Get(busy)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, reg.Sweep())

	_, err = reg.Get(idle)
	assert.ErrorIs(t, err, banner.ErrNotFound)
	_, err = reg.Get(busy)
	assert.NoError(t, err)
}

func TestRegistry_ListOldestFirst(t *testing.T) {
	reg, clk := newTestRegistry(t, time.Minute)
	first, _ := reg.Open(banner.Input{Name: "First"})
	clk.Advance(time.Second)
	second, _ := reg.Open(banner.Input{Name: "Second"})

	got := reg.List()
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0].ID)
	assert.Equal(t, "First", got[0].Snapshot.Name)
	assert.Equal(t, banner.StateHidden, got[0].Snapshot.State)
	assert.Equal(t, second, got[1].ID)
	assert.Equal(t, banner.StateVisible, got[1].Snapshot.State)

	// Listing is not use: the first banner still goes idle.
	clk.Advance(59 * time.Second)
	reg.List()
	_, err := reg.Get(second)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, reg.Sweep())
	require.Len(t, reg.List(), 1)
	assert.Equal(t, second, reg.List()[0].ID)
}

func TestRegistry_SubscribedBannerSurvivesSweep(t *testing.T) {
	reg, clk := newTestRegistry(t, 30*time.Minute)
	id, _ := reg.Open(banner.Input{Name: "Ana"})

	var last banner.Snapshot
	unsubscribe, err := reg.Subscribe(id, func(s banner.Snapshot) { last = s })
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	assert.Equal(t, 0, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, banner.StateHidden, last.State)

	unsubscribe()
	unsubscribe()

	clk.Advance(29 * time.Minute)
	assert.Equal(t, 0, reg.Sweep(), "idle time starts when the subscription detaches")
	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, banner.StateHidden, last.State, "a detached subscriber sees nothing further")
}

func TestRegistry_SweepDisabled(t *testing.T) {
	reg, clk := newTestRegistry(t, 0)
	reg.Open(banner.Input{})
	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Shutdown(t *testing.T) {
	reg, clk := newTestRegistry(t, 0)
	reg.Open(banner.Input{Name: "A"})
	reg.Open(banner.Input{Name: "B"})

	assert.Equal(t, 2, reg.Shutdown())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, clk.Pending())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := banner.NewRegistry(banner.RegistryConfig{
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := reg.Open(banner.Input{Name: "Ana"})
			for range 20 {
				_, err := reg.Change(id, banner.Input{Name: "Ana"})
				assert.NoError(t, err)
			}
			_, err := reg.Close(id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, reg.Len())
}
