package events

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("kommo-chat", "evt").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "kommo-chat", "evt")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("kommo-chat", "evt-miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "kommo-chat", "evt-miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("kommo-chat", "evt-new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.Claim(context.Background(), "kommo-chat", "evt-new")
	if err != nil || !ok {
		t.Fatalf("expected claim success, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("kommo-chat", "evt-new").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.Claim(context.Background(), "kommo-chat", "evt-new")
	if err != nil || ok {
		t.Fatalf("expected duplicate claim to be rejected, got %v %v", ok, err)
	}

	mock.ExpectExec("DELETE FROM processed_events").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := store.Purge(context.Background(), 24*time.Hour)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 purged rows, got %d %v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedisProcessedStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisProcessedStore(client, time.Hour)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "kommo-chat", "msg-1")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = store.Claim(ctx, "kommo-chat", "msg-1")
	if err != nil || ok {
		t.Fatalf("second claim should be rejected: ok=%v err=%v", ok, err)
	}
	ok, err = store.Claim(ctx, "botconversa", "msg-1")
	if err != nil || !ok {
		t.Fatalf("claims are scoped per provider: ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("erika:processed:kommo-chat:msg-1"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	ok, err = store.Claim(ctx, "kommo-chat", "msg-1")
	if err != nil || !ok {
		t.Fatalf("expired claim should be reclaimable: ok=%v err=%v", ok, err)
	}
}

func TestMemoryProcessedStoreExpires(t *testing.T) {
	store := NewMemoryProcessedStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if ok, _ := store.Claim(context.Background(), "p", "e"); !ok {
		t.Fatalf("first claim rejected")
	}
	if ok, _ := store.Claim(context.Background(), "p", "e"); ok {
		t.Fatalf("duplicate claim accepted")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := store.Claim(context.Background(), "p", "e"); !ok {
		t.Fatalf("expired claim rejected")
	}
}

func TestMemoryProcessedStoreSweepsOncePerTTL(t *testing.T) {
	store := NewMemoryProcessedStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if ok, _ := store.Claim(ctx, "p", id); !ok {
			t.Fatalf("claim %s rejected", id)
		}
	}
	now = now.Add(30 * time.Second)
	store.Claim(ctx, "p", "d")
	if len(store.claims) != 4 {
		t.Fatalf("expected no sweep within the ttl, got %d claims", len(store.claims))
	}

	now = now.Add(45 * time.Second)
	store.Claim(ctx, "p", "e")
	if len(store.claims) != 2 {
		t.Fatalf("expected expired claims swept, got %d claims", len(store.claims))
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"a":1}`))
	if a != Fingerprint([]byte(`{"a":1}`)) {
		t.Fatalf("fingerprint not deterministic")
	}
	if a == Fingerprint([]byte(`{"a":2}`)) {
		t.Fatalf("fingerprint collision")
	}
	if !strings.HasPrefix(a, "sha256:") || len(a) != len("sha256:")+64 {
		t.Fatalf("unexpected fingerprint %q", a)
	}
}
