// Package sandboxsession implements the Sandbox Session Manager (C11): a
// process-wide pool of SessionInfo keyed by (user_id, conversation_id),
// with LRU eviction, per-state timeouts, a periodic sweeper, and
// recreation notices. Grounded on the teacher's internal/gateway/managers
// Start/Stop lifecycle convention and internal/tools/sandbox/pool.go's
// mutex-guarded-map discipline (release the lock before I/O, reacquire to
// commit).
package sandboxsession

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/sandboxexec"
)

// Policy is the tunable timeout/capacity table, defaults per the design.
type Policy struct {
	IdleTimeout        time.Duration
	DisconnectTimeout  time.Duration
	CompletionRetain   time.Duration
	MaxSessionDuration time.Duration
	MaxSessionsPerUser int
	MaxTotalSessions   int
	AllowSessionReuse  bool
}

// DefaultPolicy returns the design's default policy record.
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:        7200 * time.Second,
		DisconnectTimeout:  1800 * time.Second,
		CompletionRetain:   3600 * time.Second,
		MaxSessionDuration: 28800 * time.Second,
		MaxSessionsPerUser: 5,
		MaxTotalSessions:   200,
		AllowSessionReuse:  true,
	}
}

// ExecutorFactory creates a new Executor for a freshly (re)created session.
type ExecutorFactory func(ctx context.Context) (sandboxexec.Executor, error)

type liveSession struct {
	info     *models.SessionInfo
	executor sandboxexec.Executor
}

// Result is returned from GetOrCreate.
type Result struct {
	Session       *models.SessionInfo
	Executor      sandboxexec.Executor
	IsNew         bool
	IsRecreated   bool
	PreviousState *models.SessionHistory
	Message       string
}

// Manager is the Sandbox Session Manager component.
type Manager struct {
	policy  Policy
	factory ExecutorFactory
	log     *slog.Logger

	mu             sync.Mutex
	sessions       map[string]*liveSession           // session_id -> live session
	byConversation map[string]string                 // conversation_id -> session_id
	history        map[string]*models.SessionHistory // conversation_id -> history
	userCount      map[string]int                    // user_id -> live session count

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Manager. Call Start to begin the periodic sweeper.
func New(policy Policy, factory ExecutorFactory, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		policy:         policy,
		factory:        factory,
		log:            log.With("component", "sandbox_session_manager"),
		sessions:       make(map[string]*liveSession),
		byConversation: make(map[string]string),
		history:        make(map[string]*models.SessionHistory),
		userCount:      make(map[string]int),
	}
}

// Start launches the 60s sweeper goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.sweepLoop(ctx)
	return nil
}

// Stop cleans up every live session with the given reason and halts the
// sweeper.
func (m *Manager) Stop(ctx context.Context, reason string) error {
	if m.stopCh != nil {
		close(m.stopCh)
		<-m.doneCh
	}
	return m.CleanupAll(ctx, reason)
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep evaluates every session against the design's state table, cleaning
// up any that match. It collects decisions under the lock, then performs
// the (blocking) cleanups outside it.
func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()
	m.mu.Lock()
	var toClean []struct {
		id     string
		reason string
	}
	for id, ls := range m.sessions {
		info := ls.info
		switch {
		case now.Sub(info.CreatedAt) > m.policy.MaxSessionDuration:
			toClean = append(toClean, struct{ id, reason string }{id, "IdleTimeout"})
		case info.State == models.SandboxCompleting && now.Sub(info.StateChangedAt) > m.policy.CompletionRetain:
			toClean = append(toClean, struct{ id, reason string }{id, "TaskComplete"})
		case info.State == models.SandboxDisconnected && now.Sub(info.StateChangedAt) > m.policy.DisconnectTimeout:
			toClean = append(toClean, struct{ id, reason string }{id, "DisconnectTimeout"})
		case (info.State == models.SandboxActive || info.State == models.SandboxIdle) && now.Sub(info.LastActivity) > m.policy.IdleTimeout:
			toClean = append(toClean, struct{ id, reason string }{id, "IdleTimeout"})
		case info.State == models.SandboxError:
			toClean = append(toClean, struct{ id, reason string }{id, "Error"})
		}
	}
	m.mu.Unlock()

	for _, c := range toClean {
		m.End(ctx, c.id, c.reason)
	}
}

// GetOrCreate returns a live session for (userID, conversationID), reusing
// one if allowed and enforcing capacity limits before creating a new one.
func (m *Manager) GetOrCreate(ctx context.Context, userID, conversationID string) (*Result, error) {
	m.mu.Lock()
	if conversationID != "" && m.policy.AllowSessionReuse {
		if sid, ok := m.byConversation[conversationID]; ok {
			if ls, ok := m.sessions[sid]; ok && (ls.info.State == models.SandboxActive || ls.info.State == models.SandboxIdle) {
				ls.info.LastActivity = time.Now()
				ls.info.State = models.SandboxActive
				m.mu.Unlock()
				return &Result{Session: ls.info, Executor: ls.executor, IsNew: false}, nil
			}
		}
	}

	if len(m.sessions) >= m.policy.MaxTotalSessions {
		if err := m.evictOneLocked(ctx, ""); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	if userID != "" && m.userCount[userID] >= m.policy.MaxSessionsPerUser {
		if err := m.evictOneLocked(ctx, userID); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}

	var prevHistory *models.SessionHistory
	isRecreated := false
	var message string
	if conversationID != "" {
		if h, ok := m.history[conversationID]; ok {
			isRecreated = true
			prevHistory = h
			message = composeRecreationNotice(h)
		}
	}
	m.mu.Unlock()

	executor, err := m.factory(ctx)
	if err != nil {
		return nil, models.NewError(models.KindSessionLimit, "failed to create sandbox executor", err)
	}

	now := time.Now()
	info := &models.SessionInfo{
		SessionID:         uuid.New().String(),
		UserID:            userID,
		ConversationID:    conversationID,
		State:             models.SandboxActive,
		CreatedAt:         now,
		LastActivity:      now,
		StateChangedAt:    now,
		InstalledPackages: map[string]bool{},
		CreatedFiles:      map[string]bool{},
		IsRecreated:       isRecreated,
	}
	if prevHistory != nil {
		info.PreviousSessionID = prevHistory.LastSessionID
	}

	m.mu.Lock()
	m.sessions[info.SessionID] = &liveSession{info: info, executor: executor}
	if conversationID != "" {
		m.byConversation[conversationID] = info.SessionID
	}
	if userID != "" {
		m.userCount[userID]++
	}
	m.mu.Unlock()

	return &Result{
		Session:       info,
		Executor:      executor,
		IsNew:         true,
		IsRecreated:   isRecreated,
		PreviousState: prevHistory,
		Message:       message,
	}, nil
}

// evictOneLocked evicts one non-Active, non-Creating session (oldest
// last_activity), scoped to forUser if non-empty. Must be called with m.mu
// held; the session is removed from the maps before the lock is released
// around the executor stop (I/O), and its history is recorded after.
func (m *Manager) evictOneLocked(ctx context.Context, forUser string) error {
	var victim string
	var oldest time.Time
	for id, ls := range m.sessions {
		if forUser != "" && ls.info.UserID != forUser {
			continue
		}
		if ls.info.State == models.SandboxActive || ls.info.State == models.SandboxCreating {
			continue
		}
		if victim == "" || ls.info.LastActivity.Before(oldest) {
			victim = id
			oldest = ls.info.LastActivity
		}
	}
	if victim == "" {
		return models.NewError(models.KindSessionLimit, "no session available to evict", nil)
	}

	m.mu.Unlock()
	m.endLocked(ctx, victim, "CapacityEviction")
	m.mu.Lock()
	return nil
}

// End terminates a session and records its SessionHistory.
func (m *Manager) End(ctx context.Context, sessionID, reason string) {
	m.endLocked(ctx, sessionID, reason)
}

func (m *Manager) endLocked(ctx context.Context, sessionID, reason string) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	if ls.info.ConversationID != "" && m.byConversation[ls.info.ConversationID] == sessionID {
		delete(m.byConversation, ls.info.ConversationID)
	}
	if ls.info.UserID != "" {
		m.userCount[ls.info.UserID]--
	}
	conversationID := ls.info.ConversationID
	m.mu.Unlock()

	if err := ls.executor.Close(); err != nil {
		m.log.Warn("failed to close sandbox executor", "session_id", sessionID, "error", err)
	}

	if conversationID != "" {
		m.mu.Lock()
		h, ok := m.history[conversationID]
		if !ok {
			h = &models.SessionHistory{ConversationID: conversationID, InstalledPackages: map[string]bool{}, CreatedFiles: map[string]bool{}}
			m.history[conversationID] = h
		}
		h.LastSessionID = sessionID
		h.LastCleanedAt = time.Now()
		h.CleanupReason = reason
		for pkg := range ls.info.InstalledPackages {
			h.InstalledPackages[pkg] = true
		}
		for f := range ls.info.CreatedFiles {
			h.CreatedFiles[f] = true
		}
		h.TotalSessions++
		h.TotalCommands += ls.info.CommandCount
		m.mu.Unlock()
	}
}

// CleanupAll ends every live session with the given reason.
func (m *Manager) CleanupAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.End(ctx, id, reason)
	}
	return nil
}

// transition updates a session's state, recording the transition time. Any
// observed activity promotes Idle to Active.
func (m *Manager) transition(sessionID string, newState models.SandboxState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	ls.info.State = newState
	ls.info.StateChangedAt = time.Now()
	if newState != models.SandboxIdle {
		ls.info.LastActivity = time.Now()
	}
}

func (m *Manager) MarkActive(sessionID string)   { m.transition(sessionID, models.SandboxActive) }
func (m *Manager) MarkIdle(sessionID string)     { m.transition(sessionID, models.SandboxIdle) }
func (m *Manager) MarkComplete(sessionID string) { m.transition(sessionID, models.SandboxCompleting) }
func (m *Manager) MarkDisconnected(sessionID string) {
	m.transition(sessionID, models.SandboxDisconnected)
}
func (m *Manager) MarkReconnected(sessionID string) { m.transition(sessionID, models.SandboxActive) }

var (
	installPattern   = regexp.MustCompile(`\b(?:pip|pip3)\s+install\s+([\w.\-\[\]]+)|\b(?:npm)\s+install\s+([\w.\-@/]+)|\bapt(?:-get)?\s+install\s+([\w.\-]+)`)
	fileWritePattern = regexp.MustCompile(`>\s*([^\s;&|]+)|\btouch\s+([^\s;&|]+)|\bmkdir\s+(?:-p\s+)?([^\s;&|]+)`)
)

// RecordCommand records a command's execution and parses it for
// package-install and file-creation patterns.
func (m *Manager) RecordCommand(sessionID, command string, durationMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	ls.info.CommandCount++
	ls.info.LastActivity = time.Now()
	if ls.info.State == models.SandboxIdle {
		ls.info.State = models.SandboxActive
		ls.info.StateChangedAt = ls.info.LastActivity
	}

	for _, match := range installPattern.FindAllStringSubmatch(command, -1) {
		for _, g := range match[1:] {
			if g != "" {
				ls.info.InstalledPackages[g] = true
			}
		}
	}
	for _, match := range fileWritePattern.FindAllStringSubmatch(command, -1) {
		for _, g := range match[1:] {
			if g != "" {
				ls.info.CreatedFiles[g] = true
			}
		}
	}
}

func composeRecreationNotice(h *models.SessionHistory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous sandbox session ended (%s).", h.CleanupReason)
	if n := len(h.InstalledPackages); n > 0 {
		pkgs := topKeys(h.InstalledPackages, 5)
		fmt.Fprintf(&b, " Previously installed packages: %s.", strings.Join(pkgs, ", "))
	}
	if n := len(h.CreatedFiles); n > 0 {
		files := topKeys(h.CreatedFiles, 5)
		fmt.Fprintf(&b, " Previously created files: %s.", strings.Join(files, ", "))
	}
	return b.String()
}

func topKeys(set map[string]bool, n int) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
