package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canopy/internal/testing/fixtures/network"
)

func waitForEvent(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "change channel closed before an event arrived")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change event")
		return ChangeEvent{}
	}
}

func TestWatch_ExternalEdit(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo_car")
	ws := newTestWorkspace(t, root, WithDebounce(50*time.Millisecond))
	require.NoError(t, ws.SaveRoot(network.SampleVehicle()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := ws.Watch(ctx)
	require.NoError(t, err)

	target := filepath.Join(root, "services", "telemetry.canopy.yaml")
	require.NoError(t, os.WriteFile(target, []byte("port: 40000\nmajor_version: 3\n"), 0644))

	event := waitForEvent(t, ch)
	assert.Equal(t, target, event.Path)
	assert.Equal(t, OpUpdate, event.Op)
	assert.True(t, event.Known, "the edited path is bound in the identity map")
	assert.False(t, event.Timestamp.IsZero())
}

func TestWatch_DebounceCollapses(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo_car")
	ws := newTestWorkspace(t, root, WithDebounce(100*time.Millisecond))
	require.NoError(t, ws.SaveRoot(network.SampleVehicle()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := ws.Watch(ctx)
	require.NoError(t, err)

	target := filepath.Join(root, "network.canopy.yaml")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("mtu: 9000\nvlan: 1\n"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	event := waitForEvent(t, ch)
	assert.Equal(t, target, event.Path)

	// The burst collapses into one event; the channel stays quiet after it.
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second event: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatch_UnknownPathAndForeignFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo_car")
	ws := newTestWorkspace(t, root, WithDebounce(50*time.Millisecond))
	require.NoError(t, ws.SaveRoot(network.SampleVehicle()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := ws.Watch(ctx)
	require.NoError(t, err)

	// Files without the document extension are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("notes\n"), 0644))

	// A new document file the workspace has never loaded is reported as
	// unknown.
	fresh := filepath.Join(root, "services", "updates.canopy.yaml")
	require.NoError(t, os.WriteFile(fresh, []byte("port: 1\nmajor_version: 1\n"), 0644))

	event := waitForEvent(t, ch)
	assert.Equal(t, fresh, event.Path)
	assert.Equal(t, OpCreate, event.Op)
	assert.False(t, event.Known)
}

func TestWatch_SingleWatcherPerWorkspace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo_car")
	ws := newTestWorkspace(t, root, WithDebounce(50*time.Millisecond))
	require.NoError(t, ws.SaveRoot(network.SampleVehicle()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := ws.Watch(ctx)
	require.NoError(t, err)

	_, err = ws.Watch(ctx)
	require.ErrorContains(t, err, "already watching")
}

// Cancelling a watch while debounce timers are in flight must never send on
// the closed channel, and once the stream has ended the workspace can be
// watched again without an intervening Close.
func TestWatch_RestartAfterCancel(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo_car")
	ws := newTestWorkspace(t, root, WithDebounce(time.Millisecond))
	require.NoError(t, ws.SaveRoot(network.SampleVehicle()))

	target := filepath.Join(root, "network.canopy.yaml")
	for i := 0; i < 25; i++ {
		ctx, cancel := context.WithCancel(context.Background())

		var ch <-chan ChangeEvent
		require.Eventually(t, func() bool {
			c, err := ws.Watch(ctx)
			if err != nil {
				return false
			}
			ch = c
			return true
		}, 5*time.Second, time.Millisecond, "previous stream must release the watch slot")

		// Pending timers race the cancellation around the debounce
		// deadline.
		for j := 0; j < 4; j++ {
			require.NoError(t, os.WriteFile(target, []byte("mtu: 1500\nvlan: 2\n"), 0644))
		}
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		cancel()

		// Draining to closure fails loudly if anything sends after the
		// close.
		for range ch {
		}
	}
}

func TestWatch_ClosesWithWorkspace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo_car")
	ws := newTestWorkspace(t, root, WithDebounce(50*time.Millisecond))
	require.NoError(t, ws.SaveRoot(network.SampleVehicle()))

	ch, err := ws.Watch(context.Background())
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must close when the workspace closes")
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close after workspace close")
	}
}
