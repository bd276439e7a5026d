package middleware

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"classflow_go/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParseToken(t *testing.T) {
	user := &models.User{Username: "kanya", Role: models.RoleTutor}
	user.ID = 7

	token, err := signToken(user, "secret-secret-secret", time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ParseToken(token, "secret-secret-secret")
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, models.RoleTutor, claims.Role)

	_, err = ParseToken(token, "another-secret-value")
	assert.Error(t, err)

	expired, err := signToken(user, "secret-secret-secret", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(expired, "secret-secret-secret")
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("claims", &Claims{Role: c.Get("X-Role")})
		return c.Next()
	})
	app.Post("/batches", RequireAdmin(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
	app.Post("/attendance", RequireTutorOrAbove(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	tests := []struct {
		path, role string
		want       int
	}{
		{"/batches", models.RoleAdmin, fiber.StatusCreated},
		{"/batches", models.RoleTutor, fiber.StatusForbidden},
		{"/attendance", models.RoleTutor, fiber.StatusOK},
		{"/attendance", models.RoleStudent, fiber.StatusForbidden},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(fiber.MethodPost, tc.path, nil)
		req.Header.Set("X-Role", tc.role)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode, "%s as %s", tc.path, tc.role)
	}
}

func TestActivityAction(t *testing.T) {
	assert.Equal(t, "CREATE", activityAction(fiber.MethodPost, "/api/batches"))
	assert.Equal(t, "CREATE", activityAction(fiber.MethodPost, "/api/batches/preview"))
	assert.Equal(t, "CANCEL", activityAction(fiber.MethodPost, "/api/sessions/4/cancel"))
	assert.Equal(t, "RESCHEDULE_CASCADE", activityAction(fiber.MethodPost, "/api/sessions/4/reschedule/cascade"))
	assert.Equal(t, "UPDATE", activityAction(fiber.MethodPatch, "/api/batches/2/status"))
	assert.Equal(t, "", activityAction(fiber.MethodOptions, "/api/batches"))

	resource, sub := resourceFromPath("/api/batches/2/enrollments")
	assert.Equal(t, "batches", resource)
	assert.Equal(t, "enrollments", sub)
}

func TestIntegrityHashIsStable(t *testing.T) {
	entry := models.ActivityLog{UserID: 1, Action: "CANCEL", Resource: "sessions", ResourceID: 9}
	entry.CreatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	first := IntegrityHash(entry)
	assert.Len(t, first, 32)
	assert.Equal(t, first, IntegrityHash(entry))

	entry.ResourceID = 10
	assert.NotEqual(t, first, IntegrityHash(entry))
}

func TestActivityLoggedOncePerRequest(t *testing.T) {
	var (
		mu  sync.Mutex
		got []models.ActivityLog
	)
	orig := saveActivity
	saveActivity = func(al models.ActivityLog) {
		mu.Lock()
		got = append(got, al)
		mu.Unlock()
	}
	t.Cleanup(func() { saveActivity = orig })

	app := fiber.New()
	app.Use(LogActivityMiddleware())
	app.Post("/api/sessions/:id/cancel", func(c *fiber.Ctx) error {
		LogActivity(c, "CANCEL", "sessions", 4, fiber.Map{"reason": "tutor sick"})
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/courses", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })

	for _, path := range []string{"/api/sessions/4/cancel", "/api/courses"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, path, nil))
		require.NoError(t, err)
		assert.Less(t, resp.StatusCode, 400)
	}

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}
	require.Eventually(t, func() bool { return count() >= 2 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"CANCEL", "CREATE"}, []string{got[0].Action, got[1].Action})
}
