package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginKey(t *testing.T) {
	assert.Equal(t, "login_attempts:api:198.51.100.7", LoginKey("api", "198.51.100.7"))
}

func TestHitCountsWithinWindow(t *testing.T) {
	l := New()
	key := LoginKey("api", "1.2.3.4")

	for i := 1; i <= 5; i++ {
		assert.Equal(t, i, l.Hit(key, 5*time.Minute))
	}
	assert.True(t, l.TooManyAttempts(key, 5))
	assert.False(t, l.TooManyAttempts(key, 6))
}

func TestWindowExpiry(t *testing.T) {
	now := time.Now()
	l := NewWithClock(func() time.Time { return now })
	key := LoginKey("web", "1.2.3.4")

	for i := 0; i < 5; i++ {
		l.Hit(key, 5*time.Minute)
	}
	assert.True(t, l.TooManyAttempts(key, 5))

	now = now.Add(5*time.Minute + time.Second)
	assert.False(t, l.TooManyAttempts(key, 5))

	// first hit of the new window re-arms the decay timer
	assert.Equal(t, 1, l.Hit(key, 5*time.Minute))
}

func TestAvailableIn(t *testing.T) {
	now := time.Now()
	l := NewWithClock(func() time.Time { return now })
	key := LoginKey("api", "1.2.3.4")

	assert.Equal(t, time.Duration(0), l.AvailableIn(key))

	l.Hit(key, 5*time.Minute)
	assert.Equal(t, 5*time.Minute, l.AvailableIn(key))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 3*time.Minute, l.AvailableIn(key))

	now = now.Add(4 * time.Minute)
	assert.Equal(t, time.Duration(0), l.AvailableIn(key))
}

func TestClear(t *testing.T) {
	l := New()
	key := LoginKey("api", "1.2.3.4")
	for i := 0; i < 5; i++ {
		l.Hit(key, 5*time.Minute)
	}
	l.Clear(key)
	assert.False(t, l.TooManyAttempts(key, 5))
	assert.Equal(t, time.Duration(0), l.AvailableIn(key))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New()
	a := LoginKey("api", "1.2.3.4")
	b := LoginKey("api", "5.6.7.8")
	c := LoginKey("web", "1.2.3.4")

	for i := 0; i < 5; i++ {
		l.Hit(a, 5*time.Minute)
	}
	assert.True(t, l.TooManyAttempts(a, 5))
	assert.False(t, l.TooManyAttempts(b, 5))
	assert.False(t, l.TooManyAttempts(c, 5))
}
