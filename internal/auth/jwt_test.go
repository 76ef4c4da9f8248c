package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevote/backend/internal/models"
)

func TestGenerateAndVerify(t *testing.T) {
	svc := NewJWTService("secret", 1)
	userID := uuid.New()

	token, err := svc.Generate(userID, models.RoleAdmin)
	require.NoError(t, err)

	gotID, role, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("one", 1).Generate(uuid.New(), models.RoleUser)
	require.NoError(t, err)

	_, _, err = NewJWTService("two", 1).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.Generate(uuid.New(), models.RoleUser)
	require.NoError(t, err)

	svc.now = time.Now
	_, _, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, _, err := NewJWTService("secret", 1).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
