package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/models"
)

const testSecret = "unit-test-secret"

type staticRevocations map[string]bool

func (s staticRevocations) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	return s[sessionID], nil
}

func TestAdmit_Valid(t *testing.T) {
	g := NewGuard(testSecret, "carewire", nil)
	token, err := Mint(testSecret, "carewire", "sess-1", "user-1", models.RoleDoctor, time.Hour)
	require.NoError(t, err)

	adm, err := g.Admit(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", adm.UserID)
	assert.Equal(t, "sess-1", adm.SessionID)
	assert.Equal(t, models.RoleDoctor, adm.Role)
	assert.True(t, adm.ExpiresAt.After(time.Now()))
}

func TestAdmit_Malformed(t *testing.T) {
	g := NewGuard(testSecret, "", nil)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := g.Admit(context.Background(), token)
		assert.ErrorIs(t, err, apperr.ErrTokenMalformed, "token %q", token)
	}
}

func TestAdmit_WrongSecret(t *testing.T) {
	g := NewGuard(testSecret, "", nil)
	token, err := Mint("other-secret", "", "sess-1", "user-1", models.RolePatient, time.Hour)
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)
}

func TestAdmit_Expired(t *testing.T) {
	g := NewGuard(testSecret, "", nil)
	token, err := Mint(testSecret, "", "sess-1", "user-1", models.RolePatient, -time.Minute)
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
}

func TestAdmit_WrongIssuer(t *testing.T) {
	g := NewGuard(testSecret, "carewire", nil)
	token, err := Mint(testSecret, "someone-else", "sess-1", "user-1", models.RolePatient, time.Hour)
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrTokenMalformed)
}

func TestAdmit_UnknownRole(t *testing.T) {
	g := NewGuard(testSecret, "", nil)
	token, err := Mint(testSecret, "", "sess-1", "user-1", "janitor", time.Hour)
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrTokenRevoked)
}

func TestAdmit_Revoked(t *testing.T) {
	g := NewGuard(testSecret, "", staticRevocations{"sess-1": true})
	token, err := Mint(testSecret, "", "sess-1", "user-1", models.RolePharmacist, time.Hour)
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrTokenRevoked)

	token2, err := Mint(testSecret, "", "sess-2", "user-1", models.RolePharmacist, time.Hour)
	require.NoError(t, err)
	_, err = g.Admit(context.Background(), token2)
	assert.NoError(t, err)
}
