package watchdog

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestTrackAndRelease(t *testing.T) {
	logger := zerolog.Nop()
	wd := New(&logger)

	if _, ok := wd.Release("nobody"); ok {
		t.Error("release of untracked identity reported a room")
	}

	wd.Track("creator", "R1")
	roomID, ok := wd.Release("creator")
	if !ok || roomID != "R1" {
		t.Errorf("expected (R1, true), got (%s, %v)", roomID, ok)
	}

	// release is one-shot
	if _, ok = wd.Release("creator"); ok {
		t.Error("second release found a stale mapping")
	}
}
