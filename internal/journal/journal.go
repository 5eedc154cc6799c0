package journal

/*
Журнал входящих событий (Ingest Journal) — полный audit trail всего,
что агенты прислали по проводу, независимо от судьбы доменной записи.

Архитектура:
- Non-blocking: горячий путь роутера кладёт запись в буферизованный канал
  и не ждёт базу.
- Batching: записи копятся и уходят в PostgreSQL пакетной вставкой по
  таймеру или при достижении лимита пачки.
- Drain Pattern: при остановке канал запирается, воркер вычитывает остаток
  и делает финальный flush — перезапуск сервиса не теряет данных.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const batchLimit = 100

// Entry — одна принятая по проводу запись.
type Entry struct {
	ID         string    // UUID
	ConnID     string    // идентификатор соединения-источника
	UserID     int64
	Event      string // имя события из конверта
	Payload    []byte // сырой data-фрагмент как пришёл
	ReceivedAt time.Time
}

// Writer определяет, куда физически сохраняются пачки.
type Writer interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// FillGauge — приёмник метрики заполненности буфера (backpressure).
type FillGauge interface {
	Set(float64)
}

type Journal struct {
	ch       chan Entry
	repo     Writer
	logger   *zap.Logger
	fill     FillGauge
	interval time.Duration
	wg       sync.WaitGroup
	isClosed int32 // атомарный флаг: 0 — открыт, 1 — закрыт
}

func New(repo Writer, logger *zap.Logger, bufferSize int, flushInterval time.Duration, fill FillGauge) *Journal {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:       make(chan Entry, bufferSize),
		repo:     repo,
		logger:   logger.Named("journal"),
		fill:     fill,
		interval: flushInterval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждёт, пока воркер допишет остаток буфера.
func (j *Journal) Stop() {
	atomic.StoreInt32(&j.isClosed, 1)

	// Крошечная пауза, чтобы конкурирующие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	j.logger.Info("stopping journal: closing channel and flushing buffer")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

// Record ставит запись в очередь. При переполненном буфере запись
// сбрасывается с ошибкой в лог (load shedding), горячий путь не блокируется.
func (j *Journal) Record(e Entry) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("journal entry dropped: journal is stopping",
			zap.String("event", e.Event), zap.Int64("user_id", e.UserID))
		return
	}

	select {
	case j.ch <- e:
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("event", e.Event),
			zap.Int64("user_id", e.UserID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Entry, 0, batchLimit)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на остановке уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Error(err), zap.Int("batch", len(batch)))
			}
			batch = batch[:0]
		}
		if j.fill != nil {
			j.fill.Set(float64(len(j.ch)))
		}
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				// Канал закрыт из Stop(): вычитали остаток, финальный flush
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
