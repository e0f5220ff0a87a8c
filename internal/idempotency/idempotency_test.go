package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

var _ = Describe("MemoryStore", func() {
	var (
		store *MemoryStore
		now   time.Time
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		store = NewMemoryStore()
		store.now = func() time.Time { return now }
	})

	It("should refuse a key that is already claimed", func() {
		ok, err := store.Claim(ctx, "k1", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = store.Claim(ctx, "k1", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should allow the key again after release", func() {
		Expect(store.Claim(ctx, "k1", time.Hour)).To(BeTrue())
		Expect(store.Release(ctx, "k1")).To(Succeed())
		Expect(store.Claim(ctx, "k1", time.Hour)).To(BeTrue())
	})

	It("should expire keys after their ttl", func() {
		Expect(store.Claim(ctx, "k1", time.Minute)).To(BeTrue())
		now = now.Add(2 * time.Minute)
		Expect(store.Claim(ctx, "k1", time.Minute)).To(BeTrue())
	})

	It("should let exactly one concurrent claimer win", func() {
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := store.Claim(ctx, "race", time.Hour); ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		Expect(wins).To(Equal(int32(1)))
	})
})

var _ = Describe("RedisStore", func() {
	It("should report connection failures as errors", func() {
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()

		store := NewRedisStore(client, "")
		ok, err := store.Claim(context.Background(), "k1", time.Minute)
		Expect(err).To(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
