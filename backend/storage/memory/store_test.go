package memory

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/adwski/fileflow/backend/model"
)

var testFiles = []model.FileInfo{
	{Name: "a.txt", Type: "text/plain", SizeBytes: 10},
}

func TestCreateRoomDuplicate(t *testing.T) {
	ms := NewMemStore(3)

	if err := ms.CreateRoom("R1", "creator", testFiles); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := ms.CreateRoom("R1", "other", nil); !errors.Is(err, ErrRoomExists) {
		t.Errorf("expected ErrRoomExists, got %v", err)
	}
	// the duplicate attempt must not have touched the original
	if info := ms.RoomInfo("R1"); len(info.FilesInfo) != 1 {
		t.Errorf("duplicate create mutated room state: %+v", info)
	}
}

func TestJoinRoom(t *testing.T) {
	ms := NewMemStore(3)

	if _, err := ms.JoinRoom("nope", "U1", "c1"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	if err := ms.CreateRoom("R1", "creator", testFiles); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	n, err := ms.JoinRoom("R1", "U1", "c1")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected member count 1, got %d", n)
	}

	// rejoin detection compares identity, not connection id
	if _, err = ms.JoinRoom("R1", "U1", "c2"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("expected ErrAlreadyJoined, got %v", err)
	}
	if ms.MemberCount("R1") != 1 {
		t.Errorf("rejected rejoin changed member count to %d", ms.MemberCount("R1"))
	}
}

func TestJoinLockedRoom(t *testing.T) {
	ms := NewMemStore(3)

	if err := ms.CreateRoom("R1", "creator", testFiles); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	ms.Lock("R1")
	ms.Lock("R1") // idempotent

	if _, err := ms.JoinRoom("R1", "U1", "c1"); !errors.Is(err, ErrRoomLocked) {
		t.Errorf("expected ErrRoomLocked, got %v", err)
	}

	ms.Unlock("R1")
	ms.Unlock("R1") // idempotent

	if _, err := ms.JoinRoom("R1", "U1", "c1"); err != nil {
		t.Errorf("join after unlock failed: %v", err)
	}
}

func TestLockAbsentRoom(t *testing.T) {
	ms := NewMemStore(3)
	// stale-state races must be no-ops
	ms.Lock("gone")
	ms.Unlock("gone")
}

func TestRemoveMember(t *testing.T) {
	ms := NewMemStore(3)

	_ = ms.CreateRoom("R1", "creator", testFiles)
	_, _ = ms.JoinRoom("R1", "U1", "c1")
	_, _ = ms.JoinRoom("R1", "U2", "c2")

	n, removed := ms.RemoveMember("R1", "c1")
	if !removed || n != 1 {
		t.Errorf("expected (1, true), got (%d, %v)", n, removed)
	}
	n, removed = ms.RemoveMember("R1", "c1")
	if removed || n != 1 {
		t.Errorf("second removal: expected (1, false), got (%d, %v)", n, removed)
	}
	if _, removed = ms.RemoveMember("gone", "c1"); removed {
		t.Error("removal from absent room reported success")
	}
}

func TestPurgeRoom(t *testing.T) {
	ms := NewMemStore(3)

	_ = ms.CreateRoom("R1", "creator", testFiles)
	_, _ = ms.JoinRoom("R1", "U1", "c1")
	_, _ = ms.JoinRoom("R1", "U2", "c2")

	conns := ms.PurgeRoom("R1")
	if len(conns) != 2 {
		t.Errorf("expected 2 member connections, got %v", conns)
	}
	if ms.RoomInfo("R1").Exists {
		t.Error("room still exists after purge")
	}
	if conns = ms.PurgeRoom("R1"); conns != nil {
		t.Errorf("purging absent room returned %v", conns)
	}
}

func TestJoinRoomCapacity(t *testing.T) {
	ms := NewMemStore(3)

	_ = ms.CreateRoom("R1", "creator", testFiles)
	for i, identity := range []string{"U1", "U2", "U3"} {
		n, err := ms.JoinRoom("R1", identity, "c"+identity)
		if err != nil {
			t.Fatalf("join %s failed: %v", identity, err)
		}
		if n != i+1 {
			t.Errorf("expected member count %d, got %d", i+1, n)
		}
	}

	if _, err := ms.JoinRoom("R1", "U4", "c4"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("expected ErrRoomFull, got %v", err)
	}
	if ms.MemberCount("R1") != 3 {
		t.Errorf("rejected join mutated membership: %d members", ms.MemberCount("R1"))
	}
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	const joiners = 16

	ms := NewMemStore(1)
	_ = ms.CreateRoom("R1", "creator", testFiles)

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		admitted atomic.Int32
		full     atomic.Int32
	)
	wg.Add(joiners)
	for i := 0; i < joiners; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := ms.JoinRoom("R1", "U"+strconv.Itoa(i), "c"+strconv.Itoa(i))
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrRoomFull):
				full.Add(1)
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if admitted.Load() != 1 || full.Load() != joiners-1 {
		t.Errorf("expected 1 admitted and %d rejected, got %d and %d",
			joiners-1, admitted.Load(), full.Load())
	}
	if ms.MemberCount("R1") != 1 {
		t.Errorf("capacity breached: %d members", ms.MemberCount("R1"))
	}
}

func TestRoomInfoLocked(t *testing.T) {
	ms := NewMemStore(3)

	_ = ms.CreateRoom("R1", "creator", testFiles)
	ms.Lock("R1")

	info := ms.RoomInfo("R1")
	if !info.Exists {
		t.Error("locked room reported as absent")
	}
	if !info.Locked {
		t.Error("lock state not reported")
	}
	if len(info.FilesInfo) != 1 || info.FilesInfo[0].Name != "a.txt" {
		t.Errorf("filesInfo not reported for locked room: %+v", info.FilesInfo)
	}
}
