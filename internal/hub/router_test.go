package hub

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/activtrack/telemetry/internal/domain"
	"github.com/activtrack/telemetry/internal/protocol"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type fakeStore struct {
	mu          sync.Mutex
	activities  []*domain.ActivityRecord
	screenshots []*domain.Screenshot
	alerts      []*domain.AlertNotification
	statuses    []*domain.AgentStatus
	nextID      int64
	failAll     bool
}

func (s *fakeStore) id() (int64, error) {
	if s.failAll {
		return 0, errors.New("storage down")
	}
	s.nextID++
	return s.nextID, nil
}

func (s *fakeStore) CreateActivity(_ context.Context, a *domain.ActivityRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.id()
	if err != nil {
		return 0, err
	}
	s.activities = append(s.activities, a)
	return id, nil
}

func (s *fakeStore) CreateScreenshot(_ context.Context, shot *domain.Screenshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.id()
	if err != nil {
		return 0, err
	}
	s.screenshots = append(s.screenshots, shot)
	return id, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, a *domain.AlertNotification) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.id()
	if err != nil {
		return 0, err
	}
	s.alerts = append(s.alerts, a)
	return id, nil
}

func (s *fakeStore) CreateStatus(_ context.Context, st *domain.AgentStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.id()
	if err != nil {
		return 0, err
	}
	s.statuses = append(s.statuses, st)
	return id, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[int64]bool
	calls  int
}

func (p *fakePresence) SetPresence(_ context.Context, userID int64, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[int64]bool)
	}
	p.online[userID] = online
	p.calls++
	return nil
}

type fakeBlobs struct {
	saved int
	fail  bool
}

func (b *fakeBlobs) SaveScreenshot(userID int64, takenAt time.Time, display int, data []byte) (string, error) {
	if b.fail {
		return "", errors.New("disk full")
	}
	b.saved++
	return fmt.Sprintf("user_%d/%d_display%d.png", userID, takenAt.UnixNano(), display), nil
}

func newTestRouter(store *fakeStore, pres *fakePresence, blobs *fakeBlobs) (*Router, *Registry) {
	reg := NewRegistry(zap.NewNop(), nil)
	rt := NewRouter(reg, store, pres, blobs, nil, zap.NewNop(), nil)
	return rt, reg
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	raw, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	return raw
}

// Агент шлёт alert; второй участник той же организации получает
// new_alert с присвоенным ID, отправитель — ничего.
func TestAlertPersistedAndFannedOut(t *testing.T) {
	store := &fakeStore{}
	rt, reg := newTestRouter(store, &fakePresence{}, &fakeBlobs{})

	sender := testConn(1, 0, 2)
	watcher := testConn(0, 0, 2)
	reg.Add(sender)
	reg.Add(watcher)

	alert := domain.AlertNotification{
		UserID:      1,
		Timestamp:   time.Now(),
		Application: "game.exe",
		Message:     "restricted",
		ActionTaken: domain.ActionNotified,
	}
	rt.Handle(context.Background(), sender, frame(t, protocol.EventAlert, alert))

	if len(store.alerts) != 1 {
		t.Fatalf("alerts persisted = %d, want 1", len(store.alerts))
	}

	got := received(watcher)
	if len(got) != 1 {
		t.Fatalf("watcher frames = %d, want 1", len(got))
	}
	env, err := protocol.Decode(got[0])
	if err != nil {
		t.Fatalf("watcher frame malformed: %v", err)
	}
	if env.Event != protocol.EventNewAlert {
		t.Errorf("event = %q, want %q", env.Event, protocol.EventNewAlert)
	}

	if len(received(sender)) != 0 {
		t.Error("sender received echo of its own event")
	}

	// Alert порождает нулевую синтетическую запись в таймлайне
	if len(store.activities) != 1 {
		t.Fatalf("synthetic activities = %d, want 1", len(store.activities))
	}
	syn := store.activities[0]
	if syn.Duration != 0 || syn.Category != domain.CategoryAlert || syn.Application != "game.exe" {
		t.Errorf("synthetic record = %+v", syn)
	}
}

func TestInvalidPayloadRejectedSilently(t *testing.T) {
	store := &fakeStore{}
	rt, reg := newTestRouter(store, &fakePresence{}, &fakeBlobs{})

	sender := testConn(1, 3, 0)
	watcher := testConn(2, 3, 0)
	reg.Add(sender)
	reg.Add(watcher)

	// activity без userId — невалидна
	rt.Handle(context.Background(), sender, frame(t, protocol.EventActivityUpdate, map[string]any{
		"application": "chrome.exe",
	}))
	// мусорный кадр целиком
	rt.Handle(context.Background(), sender, []byte(`не json`))
	// неизвестное имя события
	rt.Handle(context.Background(), sender, frame(t, "self_destruct", map[string]any{}))

	if len(store.activities) != 0 {
		t.Errorf("invalid payload persisted: %d records", len(store.activities))
	}
	if len(received(watcher)) != 0 {
		t.Error("invalid payload was broadcast")
	}
}

func TestScreenshotStoresBlobAndSynthesizesActivity(t *testing.T) {
	store := &fakeStore{}
	blobs := &fakeBlobs{}
	rt, reg := newTestRouter(store, &fakePresence{}, blobs)

	sender := testConn(5, 3, 0)
	watcher := testConn(0, 3, 0)
	reg.Add(sender)
	reg.Add(watcher)

	shot := domain.Screenshot{
		UserID:    5,
		TeamID:    3,
		Timestamp: time.Now(),
		Display:   1,
		ImageData: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
	}
	rt.Handle(context.Background(), sender, frame(t, protocol.EventScreenshot, shot))

	if blobs.saved != 1 {
		t.Fatalf("blobs saved = %d, want 1", blobs.saved)
	}
	if len(store.screenshots) != 1 {
		t.Fatalf("screenshots persisted = %d, want 1", len(store.screenshots))
	}
	persisted := store.screenshots[0]
	if persisted.FilePath == "" {
		t.Error("filePath not set before persist")
	}
	if persisted.ImageData != "" {
		t.Error("imageData leaked into persisted record")
	}

	if len(store.activities) != 1 {
		t.Fatalf("synthetic activities = %d, want 1", len(store.activities))
	}
	if store.activities[0].Category != domain.CategoryScreenshot {
		t.Errorf("synthetic category = %q", store.activities[0].Category)
	}

	if len(received(watcher)) != 1 {
		t.Error("watcher did not receive new_screenshot")
	}
}

func TestScreenshotRejectsBadBase64(t *testing.T) {
	store := &fakeStore{}
	blobs := &fakeBlobs{}
	rt, reg := newTestRouter(store, &fakePresence{}, blobs)

	sender := testConn(5, 3, 0)
	reg.Add(sender)

	rt.Handle(context.Background(), sender, frame(t, protocol.EventScreenshot, map[string]any{
		"userId":    int64(5),
		"timestamp": time.Now(),
		"imageData": "это не base64!!!",
	}))

	if blobs.saved != 0 || len(store.screenshots) != 0 {
		t.Error("malformed image reached storage")
	}
}

// Presence — побочный эффект статуса: он обновляется даже когда
// персистентность лежит, но broadcast при этом не происходит.
func TestStatusUpdatesPresenceDespiteStorageFailure(t *testing.T) {
	store := &fakeStore{failAll: true}
	pres := &fakePresence{}
	rt, reg := newTestRouter(store, pres, &fakeBlobs{})

	sender := testConn(5, 3, 0)
	watcher := testConn(0, 3, 0)
	reg.Add(sender)
	reg.Add(watcher)

	st := domain.AgentStatus{
		UserID:      5,
		Timestamp:   time.Now(),
		Platform:    domain.PlatformWindows,
		IsConnected: true,
	}
	rt.Handle(context.Background(), sender, frame(t, protocol.EventAgentStatus, st))

	if !pres.online[5] {
		t.Error("presence not updated on storage failure")
	}
	if len(received(watcher)) != 0 {
		t.Error("status broadcast despite failed persist")
	}
}

func TestStatusDisconnectedClearsPresence(t *testing.T) {
	store := &fakeStore{}
	pres := &fakePresence{}
	rt, reg := newTestRouter(store, pres, &fakeBlobs{})

	sender := testConn(5, 0, 0)
	reg.Add(sender)

	st := domain.AgentStatus{
		UserID:      5,
		Timestamp:   time.Now(),
		Platform:    domain.PlatformMacOS,
		IsConnected: false,
	}
	rt.Handle(context.Background(), sender, frame(t, protocol.EventAgentStatus, st))

	online, seen := pres.online[5]
	if !seen || online {
		t.Errorf("presence = (%v, %v), want (false, true)", online, seen)
	}
}

func TestActivityBroadcastCarriesAssignedID(t *testing.T) {
	store := &fakeStore{}
	rt, reg := newTestRouter(store, &fakePresence{}, &fakeBlobs{})

	sender := testConn(1, 3, 0)
	watcher := testConn(0, 3, 0)
	reg.Add(sender)
	reg.Add(watcher)

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.ActivityRecord{
		UserID:      1,
		Application: "code.exe",
		StartTime:   start,
		EndTime:     start.Add(time.Minute),
	}
	rt.Handle(context.Background(), sender, frame(t, protocol.EventActivityUpdate, rec))

	got := received(watcher)
	if len(got) != 1 {
		t.Fatalf("watcher frames = %d, want 1", len(got))
	}
	env, _ := protocol.Decode(got[0])
	out, err := protocol.DecodeActivity(env.Data)
	if err != nil {
		t.Fatalf("broadcast payload: %v", err)
	}
	// Наружу уходит полная запись с ID, присвоенным хранилищем
	if out.ID != 1 {
		t.Errorf("broadcast record id = %d, want 1", out.ID)
	}
	if out.Duration != 60 {
		t.Errorf("broadcast record duration = %d, want 60", out.Duration)
	}
}

func TestRateLimitDropsFrame(t *testing.T) {
	store := &fakeStore{}
	rt, reg := newTestRouter(store, &fakePresence{}, &fakeBlobs{})

	sender := testConn(1, 3, 0)
	sender.limiter = rate.NewLimiter(rate.Limit(0), 0) // всё режем
	reg.Add(sender)

	start := time.Now()
	rec := domain.ActivityRecord{
		UserID:      1,
		Application: "code.exe",
		StartTime:   start,
		EndTime:     start,
	}
	rt.Handle(context.Background(), sender, frame(t, protocol.EventActivityUpdate, rec))

	if len(store.activities) != 0 {
		t.Error("rate-limited frame reached storage")
	}
}
