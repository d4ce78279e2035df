package activation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	redisclient "github.com/dmarkov/verifio-backend/pkg/redis"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewWithStore(redislib.NewClient(&redislib.Options{Addr: mr.Addr()}))
	return NewCache(client, time.Minute), mr
}

func TestStoreAndConsumeCode(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "0427"); err != nil {
		t.Fatalf("store code: %v", err)
	}

	ok, err := cache.VerifyAndConsume(ctx, userID, "0427")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected correct code to verify")
	}

	ok, err = cache.VerifyAndConsume(ctx, userID, "0427")
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if ok {
		t.Fatalf("expected consumed code to be rejected on replay")
	}
}

func TestWrongCodeLeavesEntryIntact(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "1111"); err != nil {
		t.Fatalf("store code: %v", err)
	}

	ok, err := cache.VerifyAndConsume(ctx, userID, "2222")
	if err != nil {
		t.Fatalf("verify wrong code: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong code to fail")
	}

	ok, err = cache.VerifyAndConsume(ctx, userID, "1111")
	if err != nil {
		t.Fatalf("verify right code after wrong guess: %v", err)
	}
	if !ok {
		t.Fatalf("expected code to survive a wrong guess")
	}
}

func TestVerifyMissingCode(t *testing.T) {
	cache, _ := testCache(t)

	ok, err := cache.VerifyAndConsume(context.Background(), uuid.New(), "0000")
	if err != nil {
		t.Fatalf("verify missing: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key to fail verification")
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "3456"); err != nil {
		t.Fatalf("store code: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	ok, err := cache.VerifyAndConsume(ctx, userID, "3456")
	if err != nil {
		t.Fatalf("verify expired: %v", err)
	}
	if ok {
		t.Fatalf("expected expired code to fail verification")
	}
}

func TestStoreOverwritesPreviousCode(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "1111"); err != nil {
		t.Fatalf("store first code: %v", err)
	}
	if err := cache.StoreHashedCode(ctx, userID, "9999"); err != nil {
		t.Fatalf("store second code: %v", err)
	}

	ok, err := cache.VerifyAndConsume(ctx, userID, "1111")
	if err != nil {
		t.Fatalf("verify stale code: %v", err)
	}
	if ok {
		t.Fatalf("expected stale code to be rejected after reissue")
	}

	ok, err = cache.VerifyAndConsume(ctx, userID, "9999")
	if err != nil {
		t.Fatalf("verify current code: %v", err)
	}
	if !ok {
		t.Fatalf("expected latest code to verify")
	}
}

func TestConsumeRejectsCorruptStoredEntry(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "1234"); err != nil {
		t.Fatalf("store code: %v", err)
	}
	mr.HSet("vf:activation:"+userID.String(), "salt", "%%not-base64%%")

	ok, err := cache.VerifyAndConsume(ctx, userID, "1234")
	if err != nil {
		t.Fatalf("verify against corrupt entry: %v", err)
	}
	if ok {
		t.Fatalf("expected corrupt stored entry to fail verification")
	}
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "5678"); err != nil {
		t.Fatalf("store code: %v", err)
	}

	const callers = 8
	start := make(chan struct{})
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := cache.VerifyAndConsume(ctx, userID, "5678")
			if err != nil {
				t.Errorf("concurrent verify: %v", err)
			}
			results <- ok
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one caller to consume the code, got %d", wins)
	}
}

func TestInvalidate(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := cache.StoreHashedCode(ctx, userID, "7777"); err != nil {
		t.Fatalf("store code: %v", err)
	}
	if err := cache.Invalidate(ctx, userID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	ok, err := cache.VerifyAndConsume(ctx, userID, "7777")
	if err != nil {
		t.Fatalf("verify after invalidate: %v", err)
	}
	if ok {
		t.Fatalf("expected invalidated code to fail verification")
	}
}
