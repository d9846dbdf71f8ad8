package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_AllowOncePerWindow(t *testing.T) {
	now := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	th := NewThrottle(time.Hour)
	th.nowFn = func() time.Time { return now }

	assert.True(t, th.Allow("pos-1:MARKET_CLOSED"))
	assert.False(t, th.Allow("pos-1:MARKET_CLOSED"))
	assert.True(t, th.Allow("pos-2:MARKET_CLOSED"), "keys are independent")

	now = now.Add(59 * time.Minute)
	assert.False(t, th.Allow("pos-1:MARKET_CLOSED"))

	now = now.Add(2 * time.Minute)
	assert.True(t, th.Allow("pos-1:MARKET_CLOSED"))
}

func TestThrottle_Forget(t *testing.T) {
	th := NewThrottle(time.Hour)
	assert.True(t, th.Allow("k"))
	th.Forget("k")
	assert.True(t, th.Allow("k"))
}

func TestThrottle_NilAlwaysAllows(t *testing.T) {
	var th *Throttle
	assert.True(t, th.Allow("k"))
	assert.True(t, th.Allow("k"))
}
