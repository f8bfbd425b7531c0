package localprovider

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestTokenStore_SingleUse(t *testing.T) {
	ts := NewTokenStore()
	token := ts.GenerateToken()

	check.True(t, ts.Valid(token))
	check.True(t, ts.ValidateAndConsume(token))
	check.False(t, ts.Valid(token))
	check.False(t, ts.ValidateAndConsume(token))
}

func TestTokenStore_UnknownTokenRejected(t *testing.T) {
	ts := NewTokenStore()
	check.False(t, ts.Valid("never-issued"))
	check.False(t, ts.ValidateAndConsume("never-issued"))
}

func TestTokenStore_TokensAreUnique(t *testing.T) {
	ts := NewTokenStore()
	check.NotEqual(t, ts.GenerateToken(), ts.GenerateToken())
	check.Equal(t, 2, ts.Len())
}

func TestTokenStore_ExpireEvictsOldTokens(t *testing.T) {
	ts := NewTokenStore()
	stale := ts.GenerateToken()
	fresh := ts.GenerateToken()

	ts.mu.Lock()
	ts.issued[stale] = time.Now().Add(-2 * time.Minute)
	ts.mu.Unlock()

	ts.expire(time.Minute)

	check.False(t, ts.Valid(stale))
	check.True(t, ts.Valid(fresh))
}
