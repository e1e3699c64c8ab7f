package sandboxsession

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/agentcore/internal/sandboxexec"
)

type fakeExecutor struct {
	closed bool
}

func (f *fakeExecutor) ExecutePython(ctx context.Context, code string, cfg sandboxexec.ResourceConfig) (sandboxexec.ExecutionResult, error) {
	return sandboxexec.ExecutionResult{Success: true}, nil
}

func (f *fakeExecutor) ExecuteShell(ctx context.Context, cmd string, cfg sandboxexec.ResourceConfig) (sandboxexec.ExecutionResult, error) {
	return sandboxexec.ExecutionResult{Success: true}, nil
}

func (f *fakeExecutor) Close() error {
	f.closed = true
	return nil
}

func fakeFactory(ctx context.Context) (sandboxexec.Executor, error) {
	return &fakeExecutor{}, nil
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MaxSessionsPerUser = 2
	p.MaxTotalSessions = 3
	return p
}

func TestGetOrCreateCreatesNewSession(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	res, err := m.GetOrCreate(context.Background(), "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !res.IsNew || res.Session == nil || res.Session.SessionID == "" {
		t.Fatalf("expected a fresh session, got %+v", res)
	}
}

func TestGetOrCreateReusesActiveSessionByConversation(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	second, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if second.IsNew {
		t.Fatal("expected second call to reuse the existing session")
	}
	if second.Session.SessionID != first.Session.SessionID {
		t.Fatalf("expected same session id, got %s vs %s", first.Session.SessionID, second.Session.SessionID)
	}
}

func TestGetOrCreateProducesRecreationNoticeAfterEnd(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	m.RecordCommand(first.Session.SessionID, "pip install numpy", 10)
	m.End(ctx, first.Session.SessionID, "TaskComplete")

	second, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if !second.IsRecreated {
		t.Fatal("expected recreated session after prior End")
	}
	if second.Message == "" {
		t.Fatal("expected a recreation notice message")
	}
	if second.PreviousState == nil || !second.PreviousState.InstalledPackages["numpy"] {
		t.Fatalf("expected previous history to carry installed packages, got %+v", second.PreviousState)
	}
}

func TestRecordCommandParsesInstallAndFilePatterns(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	ctx := context.Background()

	res, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	m.RecordCommand(res.Session.SessionID, "pip install requests && echo hi > out.txt", 5)

	m.mu.Lock()
	info := m.sessions[res.Session.SessionID].info
	m.mu.Unlock()

	if !info.InstalledPackages["requests"] {
		t.Fatalf("expected requests to be recorded as installed, got %+v", info.InstalledPackages)
	}
	if !info.CreatedFiles["out.txt"] {
		t.Fatalf("expected out.txt to be recorded as created, got %+v", info.CreatedFiles)
	}
	if info.CommandCount != 1 {
		t.Fatalf("expected command count 1, got %d", info.CommandCount)
	}
}

func TestMaxSessionsPerUserEvictsOldestIdle(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	ctx := context.Background()

	a, err := m.GetOrCreate(ctx, "user-1", "conv-a")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	m.MarkIdle(a.Session.SessionID)

	b, err := m.GetOrCreate(ctx, "user-1", "conv-b")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	m.MarkIdle(b.Session.SessionID)

	// Third session for the same user should evict one of the idle ones
	// rather than error, since MaxSessionsPerUser is 2.
	c, err := m.GetOrCreate(ctx, "user-1", "conv-c")
	if err != nil {
		t.Fatalf("create c: %v", err)
	}
	if !c.IsNew {
		t.Fatal("expected a new session for conv-c")
	}

	m.mu.Lock()
	count := m.userCount["user-1"]
	m.mu.Unlock()
	if count > testPolicy().MaxSessionsPerUser {
		t.Fatalf("expected user session count to respect the cap, got %d", count)
	}
}

func TestEndClosesExecutorAndRecordsHistory(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	ctx := context.Background()

	res, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	exec := res.Executor.(*fakeExecutor)

	m.End(ctx, res.Session.SessionID, "IdleTimeout")

	if !exec.closed {
		t.Fatal("expected executor to be closed on End")
	}
	m.mu.Lock()
	_, stillLive := m.sessions[res.Session.SessionID]
	h, hasHistory := m.history["conv-1"]
	m.mu.Unlock()
	if stillLive {
		t.Fatal("expected session to be removed from the live map")
	}
	if !hasHistory || h.CleanupReason != "IdleTimeout" {
		t.Fatalf("expected recorded history with cleanup reason, got %+v", h)
	}
}

func TestSweepCleansUpIdleTimeoutSessions(t *testing.T) {
	policy := testPolicy()
	policy.IdleTimeout = time.Millisecond
	m := New(policy, fakeFactory, nil)
	ctx := context.Background()

	res, err := m.GetOrCreate(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	m.mu.Lock()
	m.sessions[res.Session.SessionID].info.LastActivity = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.sweep(ctx)

	m.mu.Lock()
	_, stillLive := m.sessions[res.Session.SessionID]
	m.mu.Unlock()
	if stillLive {
		t.Fatal("expected sweep to clean up the idle-timed-out session")
	}
}

func TestCleanupAllEndsEverySession(t *testing.T) {
	m := New(testPolicy(), fakeFactory, nil)
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "user-1", "conv-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.GetOrCreate(ctx, "user-2", "conv-2"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.CleanupAll(ctx, "shutdown"); err != nil {
		t.Fatalf("CleanupAll: %v", err)
	}

	m.mu.Lock()
	remaining := len(m.sessions)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected all sessions cleaned up, got %d remaining", remaining)
	}
}
