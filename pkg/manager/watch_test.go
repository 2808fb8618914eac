package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWatchTree_SignalsOnFileWrite(t *testing.T) {
	base := t.TempDir()
	w, err := WatchTree(base)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(base, "a.conf"), []byte("Host a\n"), 0o644))
	waitSignal(t, w.Events, "write signal")
}

func TestWatchTree_CoalescesBurstsIntoOneSignal(t *testing.T) {
	base := t.TempDir()
	w, err := WatchTree(base)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		name := filepath.Join(base, fmt.Sprintf("c%d.conf", i))
		require.NoError(t, os.WriteFile(name, []byte("Host x\n"), 0o644))
	}
	waitSignal(t, w.Events, "burst signal")

	// the burst is over; after the debounce window nothing else fires
	select {
	case <-w.Events:
		t.Fatalf("expected burst to coalesce into a single signal")
	case <-time.After(2 * watchDebounce):
	}
}

func TestWatchTree_PicksUpFoldersCreatedLater(t *testing.T) {
	base := t.TempDir()
	w, err := WatchTree(base)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(base, "work")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitSignal(t, w.Events, "mkdir signal")

	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.conf"), []byte("Host b\n"), 0o644))
	waitSignal(t, w.Events, "nested write signal")
}

func TestWatchTree_CloseIsIdempotent(t *testing.T) {
	w, err := WatchTree(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
