// README: Session token round trip and rejection tests.
package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("s3cret", time.Hour)
	raw, exp, err := j.Issue("user-1", "driver")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	tok, err := j.VerifyIDToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.UID)
	assert.Equal(t, "driver", tok.Role())
}

func TestJWTRejects(t *testing.T) {
	j := NewJWT("s3cret", time.Hour)
	raw, _, err := j.Issue("user-1", "customer")
	require.NoError(t, err)

	_, err = NewJWT("other", time.Hour).VerifyIDToken(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWT("s3cret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("user-1", "customer")
	require.NoError(t, err)
	_, err = j.VerifyIDToken(context.Background(), old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "iss": jwtIssuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.VerifyIDToken(context.Background(), none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = j.VerifyIDToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
