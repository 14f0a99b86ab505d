package middleware

import (
	"io"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idempotencyApp(t *testing.T) (*fiber.App, *miniredis.Miniredis, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var hits atomic.Int32
	app := fiber.New()
	app.Post("/pay", Idempotency(client, time.Minute), func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attempt": hits.Load()})
	})
	app.Get("/status", Idempotency(client, time.Minute), func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.SendString("ok")
	})
	return app, mr, &hits
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	app, _, hits := idempotencyApp(t)

	req := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
	req.Header.Set("Idempotency-Key", "key-1")

	first, err := app.Test(req)
	require.NoError(t, err)
	firstBody, _ := io.ReadAll(first.Body)
	assert.Equal(t, fiber.StatusCreated, first.StatusCode)

	replay := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
	replay.Header.Set("Idempotency-Key", "key-1")
	second, err := app.Test(replay)
	require.NoError(t, err)
	secondBody, _ := io.ReadAll(second.Body)

	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, string(firstBody), string(secondBody))
	assert.Equal(t, int32(1), hits.Load())
}

func TestIdempotency_DistinctKeysExecuteSeparately(t *testing.T) {
	app, _, hits := idempotencyApp(t)

	for _, key := range []string{"key-a", "key-b"} {
		req := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
		req.Header.Set("Idempotency-Key", key)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestIdempotency_MissingKeyRejected(t *testing.T) {
	app, _, hits := idempotencyApp(t)

	req := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(0), hits.Load())
}

func TestIdempotency_SafeMethodsBypass(t *testing.T) {
	app, _, hits := idempotencyApp(t)

	// No header needed and no stored response for GET.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodGet, "/status", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestIdempotency_InFlightKeyConflicts(t *testing.T) {
	app, mr, _ := idempotencyApp(t)

	// Simulate a first request still processing.
	require.NoError(t, mr.Set(idempotencyPrefix+"key-busy", inProgressMarker))

	req := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
	req.Header.Set("Idempotency-Key", "key-busy")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestIdempotency_ConcurrentSameKeyExecutesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var hits atomic.Int32
	app := fiber.New()
	app.Post("/pay", Idempotency(client, time.Minute), func(c *fiber.Ctx) error {
		hits.Add(1)
		time.Sleep(30 * time.Millisecond)
		return c.SendStatus(fiber.StatusCreated)
	})

	var wg sync.WaitGroup
	statuses := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
			req.Header.Set("Idempotency-Key", "key-concurrent")
			resp, err := app.Test(req, 5000)
			require.NoError(t, err)
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	// Exactly one request runs the handler; the rest conflict while it is
	// in flight or replay the stored response afterwards.
	assert.Equal(t, int32(1), hits.Load())
	for _, status := range statuses {
		assert.Contains(t, []int{fiber.StatusCreated, fiber.StatusConflict}, status)
	}
}

func TestIdempotency_HandlerErrorReleasesKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var fail atomic.Bool
	fail.Store(true)
	app := fiber.New()
	app.Post("/flaky", Idempotency(client, time.Minute), func(c *fiber.Ctx) error {
		if fail.Load() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "downstream down")
		}
		return c.SendStatus(fiber.StatusCreated)
	})

	req := httptest.NewRequest(fiber.MethodPost, "/flaky", nil)
	req.Header.Set("Idempotency-Key", "key-retry")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	// The failed attempt must not pin the key; a retry goes through.
	fail.Store(false)
	retry := httptest.NewRequest(fiber.MethodPost, "/flaky", nil)
	retry.Header.Set("Idempotency-Key", "key-retry")
	resp, err = app.Test(retry)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}
