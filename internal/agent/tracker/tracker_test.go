package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/activtrack/telemetry/internal/agent/platform"
	"github.com/activtrack/telemetry/internal/domain"

	"go.uber.org/zap"
)

type mockSampler struct {
	sample platform.Sample
	err    error
}

func (m *mockSampler) SampleForeground() (platform.Sample, error) {
	return m.sample, m.err
}

type mockEmitter struct {
	records []*domain.ActivityRecord
}

func (m *mockEmitter) EmitActivity(rec *domain.ActivityRecord) {
	m.records = append(m.records, rec)
}

// testEngine собирает движок с ручным управлением часами.
func testEngine(idle time.Duration) (*Engine, *mockSampler, *mockEmitter, *time.Time) {
	sampler := &mockSampler{}
	emitter := &mockEmitter{}
	eng := NewEngine(domain.Scope{UserID: 5, TeamID: 3}, idle, sampler, emitter, zap.NewNop())

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return clock }
	return eng, sampler, emitter, &clock
}

// Пользователь смотрит youtube в chrome 65 секунд, затем переключается
// в редактор: смена приложения закрывает отрезок ровно на границе.
func TestBoundaryOnApplicationChange(t *testing.T) {
	eng, sampler, emitter, clock := testEngine(300 * time.Second)
	start := *clock

	sampler.sample = platform.Sample{Application: "chrome.exe", Title: "Mix - youtube.com"}
	if _, ok := eng.Sample(); !ok {
		t.Fatal("first sample failed")
	}
	if len(emitter.records) != 0 {
		t.Fatal("record emitted before boundary")
	}

	*clock = start.Add(65 * time.Second)
	sampler.sample = platform.Sample{Application: "code.exe", Title: "main.go"}
	eng.Sample()

	if len(emitter.records) != 1 {
		t.Fatalf("records = %d, want 1", len(emitter.records))
	}
	rec := emitter.records[0]
	if rec.Application != "chrome.exe" {
		t.Errorf("application = %q", rec.Application)
	}
	if rec.Website != "youtube.com" {
		t.Errorf("website = %q, want youtube.com", rec.Website)
	}
	if rec.Duration != 65 {
		t.Errorf("duration = %d, want 65", rec.Duration)
	}
	if rec.Category != domain.CategoryEntertainment {
		t.Errorf("category = %q, want %q", rec.Category, domain.CategoryEntertainment)
	}
	if !rec.EndTime.Equal(start.Add(65 * time.Second)) {
		t.Errorf("endTime = %v, want boundary timestamp", rec.EndTime)
	}

	// Новый отрезок открыт той же меткой времени, что закрыл старый
	*clock = start.Add(100 * time.Second)
	eng.Stop()
	if len(emitter.records) != 2 {
		t.Fatalf("records after stop = %d, want 2", len(emitter.records))
	}
	next := emitter.records[1]
	if !next.StartTime.Equal(rec.EndTime) {
		t.Errorf("gap between segments: %v .. %v", rec.EndTime, next.StartTime)
	}
	if next.Application != "code.exe" || next.Category != domain.CategoryDevelopment {
		t.Errorf("second segment = %+v", next)
	}
}

func TestWebsiteChangeCreatesBoundary(t *testing.T) {
	eng, sampler, emitter, clock := testEngine(300 * time.Second)
	start := *clock

	sampler.sample = platform.Sample{Application: "chrome.exe", Title: "Mix - youtube.com"}
	eng.Sample()

	// То же приложение, другой сайт — граница
	*clock = start.Add(30 * time.Second)
	sampler.sample = platform.Sample{Application: "chrome.exe", Title: "Home - netflix.com"}
	eng.Sample()

	if len(emitter.records) != 1 {
		t.Fatalf("records = %d, want 1", len(emitter.records))
	}
	if emitter.records[0].Website != "youtube.com" {
		t.Errorf("closed website = %q", emitter.records[0].Website)
	}
}

func TestTitleRefreshDoesNotCreateBoundary(t *testing.T) {
	eng, sampler, emitter, clock := testEngine(300 * time.Second)
	start := *clock

	sampler.sample = platform.Sample{Application: "code.exe", Title: "main.go"}
	eng.Sample()

	*clock = start.Add(10 * time.Second)
	sampler.sample = platform.Sample{Application: "code.exe", Title: "router.go"}
	eng.Sample()

	if len(emitter.records) != 0 {
		t.Fatalf("title change created a boundary")
	}

	*clock = start.Add(20 * time.Second)
	eng.Stop()
	if len(emitter.records) != 1 {
		t.Fatalf("records = %d, want 1", len(emitter.records))
	}
	rec := emitter.records[0]
	// Заголовок освежён на месте, отрезок один
	if rec.Title != "router.go" {
		t.Errorf("title = %q, want router.go", rec.Title)
	}
	if rec.Duration != 20 {
		t.Errorf("duration = %d, want 20", rec.Duration)
	}
}

func TestIdleBeyondThresholdMarksInactive(t *testing.T) {
	eng, sampler, emitter, clock := testEngine(300 * time.Second)
	start := *clock

	sampler.sample = platform.Sample{Application: "code.exe", Title: "main.go", IdleSeconds: 0}
	eng.Sample()
	if got := eng.LastActivityTime(); !got.Equal(start) {
		t.Errorf("lastActivity = %v, want %v", got, start)
	}

	// Ввода не было дольше порога: отрезок продолжается как неактивный
	*clock = start.Add(10 * time.Minute)
	sampler.sample = platform.Sample{Application: "code.exe", Title: "main.go", IdleSeconds: 600}
	eng.Sample()

	if got := eng.LastActivityTime(); !got.Equal(start) {
		t.Errorf("lastActivity advanced while idle: %v", got)
	}

	eng.Stop()
	if len(emitter.records) != 1 {
		t.Fatalf("records = %d, want 1", len(emitter.records))
	}
	if emitter.records[0].IsActive {
		t.Error("record marked active beyond idle threshold")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	eng, sampler, emitter, clock := testEngine(300 * time.Second)
	start := *clock

	sampler.sample = platform.Sample{Application: "code.exe", Title: "main.go"}
	eng.Sample()

	*clock = start.Add(5 * time.Second)
	eng.Stop()
	eng.Stop()

	if len(emitter.records) != 1 {
		t.Fatalf("records = %d, want exactly 1 final flush", len(emitter.records))
	}

	// После Stop движок мёртв: замеры не открывают новых отрезков
	if _, ok := eng.Sample(); ok {
		t.Error("sample accepted after stop")
	}
	if len(emitter.records) != 1 {
		t.Error("record emitted after stop")
	}
}

func TestStopWithoutOpenRecordEmitsNothing(t *testing.T) {
	eng, _, emitter, _ := testEngine(300 * time.Second)
	eng.Stop()
	if len(emitter.records) != 0 {
		t.Errorf("records = %d, want 0", len(emitter.records))
	}
}

func TestSamplerFailureKeepsState(t *testing.T) {
	eng, sampler, emitter, clock := testEngine(300 * time.Second)
	start := *clock

	sampler.sample = platform.Sample{Application: "code.exe", Title: "main.go"}
	eng.Sample()

	sampler.err = errors.New("window server gone")
	if _, ok := eng.Sample(); ok {
		t.Error("failed sample reported ok")
	}

	// Открытый отрезок пережил сбой замера
	sampler.err = nil
	*clock = start.Add(40 * time.Second)
	eng.Stop()
	if len(emitter.records) != 1 || emitter.records[0].Duration != 40 {
		t.Fatalf("records = %+v", emitter.records)
	}
}
