package hub

import (
	"testing"

	"github.com/activtrack/telemetry/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// testConn собирает соединение без живого сокета: для реестра и
// роутера достаточно очереди отправки.
func testConn(user, team, org int64) *Conn {
	return &Conn{
		ID:      uuid.New().String(),
		Scope:   domain.Scope{UserID: user, TeamID: team, OrganizationID: org},
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(1000), 1000),
		logger:  zap.NewNop(),
	}
}

// received забирает накопленные кадры соединения без блокировки.
func received(c *Conn) [][]byte {
	var frames [][]byte
	for {
		select {
		case f := <-c.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestBroadcastScopeIsolation(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), nil)

	member := testConn(5, 3, 2)
	stranger := testConn(6, 4, 9)
	reg.Add(member)
	reg.Add(stranger)

	n := reg.Broadcast(domain.ScopeUser, 5, []byte("frame"), nil)
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if got := len(received(member)); got != 1 {
		t.Errorf("member frames = %d, want 1", got)
	}
	if got := len(received(stranger)); got != 0 {
		t.Errorf("stranger frames = %d, want 0", got)
	}

	// Бакет без единого соединения — тихий no-op
	if n := reg.Broadcast(domain.ScopeTeam, 777, []byte("frame"), nil); n != 0 {
		t.Errorf("empty bucket delivered = %d, want 0", n)
	}
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), nil)

	origin := testConn(1, 3, 0)
	peer := testConn(2, 3, 0)
	reg.Add(origin)
	reg.Add(peer)

	n := reg.Broadcast(domain.ScopeTeam, 3, []byte("frame"), origin)
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if got := len(received(origin)); got != 0 {
		t.Errorf("origin received own frame")
	}
	if got := len(received(peer)); got != 1 {
		t.Errorf("peer frames = %d, want 1", got)
	}
}

func TestRemoveDeletesEmptyBucket(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), nil)

	a := testConn(5, 3, 2)
	b := testConn(7, 3, 2)
	reg.Add(a)
	reg.Add(b)

	reg.Remove(a)
	// Бакет пользователя 5 опустел и должен исчезнуть физически
	if reg.hasBucket(domain.ScopeUser, 5) {
		t.Error("user bucket 5 still present after removing its only member")
	}
	// Командный бакет ещё населён
	if !reg.hasBucket(domain.ScopeTeam, 3) {
		t.Error("team bucket 3 disappeared while still populated")
	}
	if got := reg.Bucket(domain.ScopeTeam, 3); got != 1 {
		t.Errorf("team bucket size = %d, want 1", got)
	}

	reg.Remove(b)
	if reg.hasBucket(domain.ScopeTeam, 3) || reg.hasBucket(domain.ScopeOrganization, 2) {
		t.Error("buckets survived removal of the last member")
	}
}

func TestRemoveUnknownConnIsNoop(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), nil)

	a := testConn(5, 0, 0)
	reg.Add(a)
	reg.Remove(testConn(5, 0, 0)) // другой объект с тем же userId

	if got := reg.Bucket(domain.ScopeUser, 5); got != 1 {
		t.Errorf("bucket size = %d, want 1", got)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	c := testConn(1, 0, 0)
	c.Close()
	if c.enqueue([]byte("frame")) {
		t.Error("enqueue on closed conn returned true")
	}

	// Повторное закрытие — no-op, без паники
	c.Close()
}

func TestEnqueueDropsOnFullBuffer(t *testing.T) {
	c := testConn(1, 0, 0)
	for i := 0; i < sendBuffer; i++ {
		if !c.enqueue([]byte("frame")) {
			t.Fatalf("enqueue %d failed before buffer is full", i)
		}
	}
	if c.enqueue([]byte("overflow")) {
		t.Error("enqueue on full buffer returned true")
	}
}
