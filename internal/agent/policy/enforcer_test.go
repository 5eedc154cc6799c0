package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/activtrack/telemetry/internal/domain"

	"go.uber.org/zap"
)

type mockNotifier struct {
	shown []string
	err   error
}

func (m *mockNotifier) ShowNotification(_, message string) error {
	m.shown = append(m.shown, message)
	return m.err
}

type mockTerminator struct {
	killed []string
	err    error
}

func (m *mockTerminator) TerminateProcess(name string) error {
	m.killed = append(m.killed, name)
	return m.err
}

type mockEmitter struct {
	alerts []*domain.AlertNotification
}

func (m *mockEmitter) EmitAlert(a *domain.AlertNotification) {
	m.alerts = append(m.alerts, a)
}

func testEnforcer(platform string) (*Enforcer, *mockNotifier, *mockTerminator, *mockEmitter, *time.Time) {
	notify := &mockNotifier{}
	term := &mockTerminator{}
	emit := &mockEmitter{}
	e := NewEnforcer(platform, domain.Scope{UserID: 5, TeamID: 3}, notify, term, emit, zap.NewNop())

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	return e, notify, term, emit, &clock
}

func TestNoMatchOnOtherPlatform(t *testing.T) {
	e, notify, _, emit, _ := testEnforcer(domain.PlatformMacOS)
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "game.exe", Platform: domain.PlatformWindows,
		ProcessNames: []string{"game.exe"},
	}})

	e.Enforce("game.exe", "", "Game")

	if len(emit.alerts) != 0 || len(notify.shown) != 0 {
		t.Error("windows-only rule fired on macos agent")
	}
}

func TestProcessNameSubstringMatch(t *testing.T) {
	e, _, _, _, _ := testEnforcer(domain.PlatformWindows)
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "Solitaire", Platform: domain.PlatformBoth,
		ProcessNames: []string{"solitaire"},
	}})

	if e.CheckRestriction("Microsoft Solitaire Collection.exe") == nil {
		t.Error("case-insensitive substring did not match")
	}
	if e.CheckRestriction("notepad.exe") != nil {
		t.Error("unrelated application matched")
	}
	if e.CheckRestriction("") != nil {
		t.Error("empty application matched")
	}
}

// Уведомление о нарушении создаётся ровно один раз на эпизод:
// приложение остаётся на переднем плане, но второго alert-а нет.
func TestExactlyOnceAlertPerEpisode(t *testing.T) {
	e, notify, _, emit, clock := testEnforcer(domain.PlatformWindows)
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "game.exe", Platform: domain.PlatformBoth,
		ProcessNames: []string{"game.exe"},
	}})

	start := *clock
	for i := 0; i < 5; i++ {
		*clock = start.Add(time.Duration(i) * 10 * time.Second)
		e.Enforce("game.exe", "", "Game")
	}

	if len(emit.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(emit.alerts))
	}
	if len(notify.shown) != 1 {
		t.Errorf("notifications = %d, want 1", len(notify.shown))
	}
	if emit.alerts[0].ActionTaken != domain.ActionNotified {
		t.Errorf("actionTaken = %q", emit.alerts[0].ActionTaken)
	}
}

// Уход приложения с переднего плана закрывает эпизод: повторное
// появление — новый эпизод и новое уведомление.
func TestEpisodeResetsWhenAppLeaves(t *testing.T) {
	e, _, _, emit, _ := testEnforcer(domain.PlatformWindows)
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "game.exe", Platform: domain.PlatformBoth,
		ProcessNames: []string{"game.exe"},
	}})

	e.Enforce("game.exe", "", "Game")
	e.Enforce("code.exe", "", "main.go")
	e.Enforce("game.exe", "", "Game")

	if len(emit.alerts) != 2 {
		t.Errorf("alerts = %d, want 2 (one per episode)", len(emit.alerts))
	}
}

func TestImmediateCloseUpgradesAction(t *testing.T) {
	e, _, term, emit, _ := testEnforcer(domain.PlatformWindows)
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "game.exe", Platform: domain.PlatformBoth,
		CloseAfterAlert: true,
		ProcessNames:    []string{"game.exe"},
	}})

	e.Enforce("game.exe", "", "Game")

	if len(term.killed) != 1 || term.killed[0] != "game.exe" {
		t.Fatalf("killed = %v", term.killed)
	}
	if len(emit.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(emit.alerts))
	}
	// Успешное завершение поднимает действие до closed
	if emit.alerts[0].ActionTaken != domain.ActionClosed {
		t.Errorf("actionTaken = %q, want %q", emit.alerts[0].ActionTaken, domain.ActionClosed)
	}
}

func TestTerminationFailureStillEmitsAlert(t *testing.T) {
	e, _, term, emit, _ := testEnforcer(domain.PlatformWindows)
	term.err = errors.New("access denied")
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "game.exe", Platform: domain.PlatformBoth,
		CloseAfterAlert: true,
		ProcessNames:    []string{"game.exe"},
	}})

	e.Enforce("game.exe", "", "Game")

	if len(emit.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(emit.alerts))
	}
	// Провал завершения не повышает действие и не блокирует доставку
	if emit.alerts[0].ActionTaken != domain.ActionNotified {
		t.Errorf("actionTaken = %q, want %q", emit.alerts[0].ActionTaken, domain.ActionNotified)
	}
}

// Правило с порогом: уведомление сразу, завершение — после того как
// приложение продержалось на переднем плане дольше порога.
func TestDelayedCloseAfterThreshold(t *testing.T) {
	e, _, term, emit, clock := testEnforcer(domain.PlatformWindows)
	e.UpdatePolicy([]domain.RestrictedApp{{
		ID: 1, Name: "game.exe", Platform: domain.PlatformBoth,
		CloseAfterAlert:       true,
		AlertThresholdMinutes: 5,
		ProcessNames:          []string{"game.exe"},
	}})

	start := *clock
	e.Enforce("game.exe", "", "Game")
	if len(term.killed) != 0 {
		t.Fatal("terminated before threshold elapsed")
	}
	if len(emit.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 immediately", len(emit.alerts))
	}

	*clock = start.Add(3 * time.Minute)
	e.Enforce("game.exe", "", "Game")
	if len(term.killed) != 0 {
		t.Fatal("terminated before threshold elapsed")
	}

	*clock = start.Add(6 * time.Minute)
	e.Enforce("game.exe", "", "Game")
	if len(term.killed) != 1 {
		t.Fatalf("killed = %v, want one termination after threshold", term.killed)
	}
	// Второго уведомления отложенное завершение не порождает
	if len(emit.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(emit.alerts))
	}
}

func TestUpdatePolicyResetsEpisodes(t *testing.T) {
	e, _, _, emit, _ := testEnforcer(domain.PlatformWindows)
	rule := domain.RestrictedApp{
		ID: 1, Name: "game.exe", Platform: domain.PlatformBoth,
		ProcessNames: []string{"game.exe"},
	}
	e.UpdatePolicy([]domain.RestrictedApp{rule})

	e.Enforce("game.exe", "", "Game")
	// Новая редакция политики оценивается с чистого листа
	e.UpdatePolicy([]domain.RestrictedApp{rule})
	e.Enforce("game.exe", "", "Game")

	if len(emit.alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(emit.alerts))
	}
}
