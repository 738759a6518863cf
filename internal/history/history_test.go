package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/command/commandtest"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
)

const waitTimeout = 2 * time.Second

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Action{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// fakeClock hands out strictly increasing times.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type events struct {
	mu   sync.Mutex
	list []command.Event
	term chan struct{}
	once sync.Once
}

func newEvents() *events { return &events{term: make(chan struct{})} }

func (e *events) handle(ev command.Event) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
	if ev.Type != command.EventData {
		e.once.Do(func() { close(e.term) })
	}
}

func (e *events) wait(t *testing.T) []command.Event {
	t.Helper()
	select {
	case <-e.term:
	case <-time.After(waitTimeout):
		t.Fatalf("no terminal event")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]command.Event(nil), e.list...)
}

func (e *events) lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.list {
		if ev.Type == command.EventData {
			out = append(out, ev.Text())
		}
	}
	return out
}

func transcript(evs []command.Event) string {
	var b strings.Builder
	for _, ev := range evs {
		b.WriteString(string(ev.Type))
		b.WriteString(":")
		b.WriteString(ev.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func newCommand(rt command.Runtime, args ...string) *command.Command {
	return command.New(rt, command.Spec{Name: "devpod", Args: args})
}

func runToEnd(t *testing.T, r *Registry, wsID string, kind models.ActionKind, rt command.Runtime) *models.Action {
	t.Helper()
	action, err := r.Begin(context.Background(), wsID, kind)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	run, err := r.Track(action, newCommand(rt, string(kind), wsID))
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	final, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return final
}

func TestBeginCreatesPendingAction(t *testing.T) {
	r := New()
	action, err := r.Begin(context.Background(), "ws", models.ActionStart)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if action.Status != models.ActionPending || action.ID == uuid.Nil {
		t.Errorf("action = %+v", action)
	}
	if _, err := r.Get(action.ID); err != nil {
		t.Errorf("pending action not resolvable: %v", err)
	}

	if _, err := r.Begin(context.Background(), "", models.ActionStart); !failure.IsValidation(err) {
		t.Errorf("blank workspace: expected validation failure, got %v", err)
	}
	if _, err := r.Begin(context.Background(), "ws", "explode"); !failure.IsValidation(err) {
		t.Errorf("bad kind: expected validation failure, got %v", err)
	}
}

func TestTrackSuccess(t *testing.T) {
	r := New()
	final := runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("pulling\nstarting\nready", nil))

	if final.Status != models.ActionSuccess || final.FinishedAt == nil {
		t.Fatalf("final = %+v", final)
	}
	var lines []string
	for _, le := range final.Transcript {
		lines = append(lines, le.Line)
	}
	if strings.Join(lines, ",") != "pulling,starting,ready" {
		t.Errorf("transcript = %v", lines)
	}
}

func TestTrackError(t *testing.T) {
	r := New()
	rt := commandtest.New()
	rt.Handler = func(p *commandtest.Process) {
		p.Stdout("working")
		p.Stderr("no space left")
		p.Exit(errors.New("exit status 1"))
	}
	final := runToEnd(t, r, "ws", models.ActionRebuild, rt)

	if final.Status != models.ActionError {
		t.Fatalf("status = %s", final.Status)
	}
	if !strings.Contains(final.Error, "no space left") {
		t.Errorf("Error = %q", final.Error)
	}
}

func TestRunCancel(t *testing.T) {
	r := New()
	rt := commandtest.New()
	action, _ := r.Begin(context.Background(), "ws", models.ActionStop)
	run, err := r.Track(action, newCommand(rt, "stop", "ws"))
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	rt.Next(waitTimeout)

	run.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	final, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.Status != models.ActionCancelled {
		t.Errorf("status = %s, want cancelled", final.Status)
	}
}

func TestTrackRejectsNonPending(t *testing.T) {
	r := New()
	final := runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("", nil))
	if _, err := r.Track(final, newCommand(commandtest.New())); !failure.IsValidation(err) {
		t.Errorf("expected validation failure, got %v", err)
	}
	if _, err := r.Track(&models.Action{ID: uuid.New()}, newCommand(commandtest.New())); !failure.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestReplayMatchesLiveAttachment(t *testing.T) {
	r := New()
	rt := commandtest.New()
	action, _ := r.Begin(context.Background(), "ws", models.ActionStart)
	run, err := r.Track(action, newCommand(rt, "up", "ws"))
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	p := rt.Next(waitTimeout)
	p.Stdout("one")
	p.Stdout("two")

	// Wait until both lines are recorded before attaching mid-run.
	deadline := time.Now().Add(waitTimeout)
	for {
		a, _ := r.Get(action.ID)
		if len(a.Transcript) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("lines never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	live := newEvents()
	if _, err := r.Attach(action.ID, live.handle); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	p.Stdout("three")
	p.Exit(nil)
	liveEvents := live.wait(t)
	<-run.Done()

	replayed := newEvents()
	if _, err := r.Replay(action.ID, replayed.handle); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	replayEvents := replayed.wait(t)

	want := "data:one\ndata:two\ndata:three\ndone:\n"
	if got := transcript(liveEvents); got != want {
		t.Errorf("live = %q, want %q", got, want)
	}
	if got := transcript(replayEvents); got != want {
		t.Errorf("replay = %q, want %q", got, want)
	}
}

func TestReplayErrorAction(t *testing.T) {
	r := New()
	final := runToEnd(t, r, "ws", models.ActionReset, commandtest.Replying("partial", errors.New("exit status 3")))

	ev := newEvents()
	if _, err := r.Replay(final.ID, ev.handle); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got := ev.wait(t)
	if len(got) != 2 || got[0].Text() != "partial" || got[1].Type != command.EventError {
		t.Errorf("events = %q", transcript(got))
	}
}

func TestReplayUnknownAction(t *testing.T) {
	r := New()
	if _, err := r.Replay(uuid.New(), func(command.Event) {}); !failure.IsNotFound(err) {
		t.Errorf("Replay: expected not found, got %v", err)
	}
	if _, err := r.Attach(uuid.New(), func(command.Event) {}); !failure.IsNotFound(err) {
		t.Errorf("Attach: expected not found, got %v", err)
	}
}

func TestViewerShowDetachesPrevious(t *testing.T) {
	r := New()
	rt := commandtest.New()
	first, _ := r.Begin(context.Background(), "ws", models.ActionStart)
	if _, err := r.Track(first, newCommand(rt, "up", "ws")); err != nil {
		t.Fatalf("Track: %v", err)
	}
	p := rt.Next(waitTimeout)
	second := runToEnd(t, r, "ws", models.ActionStop, commandtest.Replying("stopped", nil))

	ev := newEvents()
	clears := 0
	v := r.NewViewer(ev.handle, func() {
		clears++
		ev.mu.Lock()
		ev.list = nil
		ev.mu.Unlock()
	})
	defer v.Close()

	att, err := v.Show(first.ID)
	if err != nil {
		t.Fatalf("Show first: %v", err)
	}
	if _, err := v.Show(second.ID); err != nil {
		t.Fatalf("Show second: %v", err)
	}
	select {
	case <-att.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("first attachment not detached")
	}

	p.Stdout("late line from first")
	p.Exit(nil)
	ev.wait(t)

	if clears != 2 {
		t.Errorf("clear called %d times, want 2", clears)
	}
	if lines := ev.lines(); len(lines) != 1 || lines[0] != "stopped" {
		t.Errorf("viewer lines = %v", lines)
	}
}

func TestListFeedAndSelect(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	older := runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("", nil))
	newer := runToEnd(t, r, "ws", models.ActionStop, commandtest.Replying("", nil))
	runToEnd(t, r, "other", models.ActionStart, commandtest.Replying("", nil))
	pending, _ := r.Begin(context.Background(), "ws", models.ActionRebuild)

	list := r.List("ws")
	if len(list) != 3 || list[0].ID != pending.ID || list[1].ID != newer.ID || list[2].ID != older.ID {
		t.Fatalf("List order wrong: %v", kinds(list))
	}
	feed := r.Feed("ws")
	if len(feed) != 2 || feed[0].ID != newer.ID {
		t.Errorf("Feed = %v", kinds(feed))
	}
	if all := r.Feed(""); len(all) != 3 {
		t.Errorf("Feed(all) has %d entries", len(all))
	}

	sel, err := r.Select("ws", uuid.Nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Action.ID != pending.ID || !sel.Poll {
		t.Errorf("default selection = %s poll=%v, want pending with poll", sel.Action.Kind, sel.Poll)
	}

	sel, err = r.Select("ws", older.ID)
	if err != nil || sel.Action.ID != older.ID || sel.Poll {
		t.Errorf("explicit selection = %+v, %v", sel, err)
	}
	if _, err := r.Select("other", older.ID); !failure.IsNotFound(err) {
		t.Errorf("cross-workspace selection: expected not found, got %v", err)
	}
	if _, err := r.Select("empty", uuid.Nil); !failure.IsNotFound(err) {
		t.Errorf("empty workspace: expected not found, got %v", err)
	}
}

func kinds(list []*models.Action) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = string(a.Kind) + "/" + string(a.Status)
	}
	return out
}

func TestPersistenceAndLoad(t *testing.T) {
	db := setupTestDB(t)
	r := New(WithDB(db), WithFlushInterval(10*time.Millisecond))
	done := runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("a\nb", nil))

	var stored models.Action
	if err := db.First(&stored, "id = ?", done.ID).Error; err != nil {
		t.Fatalf("load stored action: %v", err)
	}
	if stored.Status != models.ActionSuccess || len(stored.Transcript) != 2 {
		t.Errorf("stored = %s with %d lines", stored.Status, len(stored.Transcript))
	}

	// A running action left behind by a previous process.
	interrupted := models.Action{WorkspaceID: "ws", Kind: models.ActionStop, Status: models.ActionRunning, StartedAt: time.Now()}
	if err := db.Create(&interrupted).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := New(WithDB(db))
	n, err := fresh.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d actions, want 2", n)
	}
	got, err := fresh.Get(interrupted.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.ActionCancelled || got.FinishedAt == nil {
		t.Errorf("interrupted action = %s", got.Status)
	}

	ev := newEvents()
	if _, err := fresh.Replay(done.ID, ev.handle); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got := transcript(ev.wait(t)); got != "data:a\ndata:b\ndone:\n" {
		t.Errorf("replay after load = %q", got)
	}
}

func TestPrune(t *testing.T) {
	db := setupTestDB(t)
	clock := newFakeClock()
	r := New(WithDB(db), WithClock(clock.Now), WithMaxPerWorkspace(2))
	oldest := runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("", nil))
	runToEnd(t, r, "ws", models.ActionStop, commandtest.Replying("", nil))
	runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("", nil))

	n, err := r.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := r.Get(oldest.ID); !failure.IsNotFound(err) {
		t.Errorf("oldest action still present: %v", err)
	}
	var count int64
	db.Model(&models.Action{}).Count(&count)
	if count != 2 {
		t.Errorf("db has %d actions, want 2", count)
	}
}

type recordingMirror struct {
	mu       sync.Mutex
	lines    []string
	complete models.ActionStatus
}

func (m *recordingMirror) Append(_ context.Context, _ uuid.UUID, e models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, e.Line)
	return nil
}

func (m *recordingMirror) Complete(_ context.Context, _ uuid.UUID, s models.ActionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete = s
	return nil
}

func TestMirrorReceivesTranscript(t *testing.T) {
	m := &recordingMirror{}
	r := New(WithMirror(m))
	runToEnd(t, r, "ws", models.ActionStart, commandtest.Replying("x\ny", nil))

	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.Join(m.lines, ",") != "x,y" || m.complete != models.ActionSuccess {
		t.Errorf("mirror lines=%v complete=%s", m.lines, m.complete)
	}
}
