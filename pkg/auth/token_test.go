package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

func testJWTConfig(minutes int) config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "tutorbill",
		ExpirationMinutes: minutes,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig(30)
	now := time.Now().UTC()
	teacherID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{SubjectID: teacherID, Role: enums.RoleTeacher})
	require.NoError(t, err)
	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)

	subject, err := claims.SubjectID()
	require.NoError(t, err)
	assert.Equal(t, teacherID, subject)
	assert.Equal(t, enums.RoleTeacher, claims.Role)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenRejectsTampering(t *testing.T) {
	cfg := testJWTConfig(10)
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{SubjectID: uuid.New(), Role: enums.RoleAdmin})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token+"x")
	assert.Error(t, err, "signature")

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err, "issuer")

	other = cfg
	other.Secret = "rotated"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err, "secret")
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := testJWTConfig(15)
	token, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), AccessTokenPayload{SubjectID: uuid.New(), Role: enums.RoleTeacher})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseAccessTokenLeeway(t *testing.T) {
	cfg := testJWTConfig(1)
	token, err := MintAccessToken(cfg, time.Now().Add(-70*time.Second), AccessTokenPayload{SubjectID: uuid.New(), Role: enums.RoleTeacher})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	cfg.Leeway = 30 * time.Second
	_, err = ParseAccessToken(cfg, token)
	assert.NoError(t, err)
}

func TestMintAccessTokenRejectsBadInput(t *testing.T) {
	cfg := testJWTConfig(5)
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{SubjectID: uuid.New(), Role: "owner"})
	assert.Error(t, err)
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.RoleTeacher})
	assert.Error(t, err)
	_, err = MintAccessToken(config.JWTConfig{}, time.Now(), AccessTokenPayload{SubjectID: uuid.New(), Role: enums.RoleTeacher})
	assert.ErrorIs(t, err, ErrSecretRequired)
}
