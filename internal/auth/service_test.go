package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/models"
)

func testService(secret string) *service {
	return &service{secret: []byte(secret), now: time.Now}
}

func TestTokenRoundTrip(t *testing.T) {
	s := testService("test-secret")
	user := &models.User{ID: uuid.New(), Email: "seller@example.com"}

	token, err := s.issueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	id, err := s.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if id != user.ID {
		t.Errorf("subject: got %s, want %s", id, user.ID)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer := testService("secret-one")
	verifier := testService("secret-two")

	token, err := issuer.issueToken(&models.User{ID: uuid.New()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, err = verifier.ValidateToken(context.Background(), token)
	if err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
	if domain.ErrorCode(err) != domain.EUNAUTHORIZED {
		t.Errorf("code: got %q, want %q", domain.ErrorCode(err), domain.EUNAUTHORIZED)
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	past := &service{
		secret: []byte("test-secret"),
		now:    func() time.Time { return time.Now().Add(-tokenTTL - time.Hour) },
	}
	token, err := past.issueToken(&models.User{ID: uuid.New()})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	s := testService("test-secret")
	if _, err := s.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestTokenRejectsUnsignedAlgorithm(t *testing.T) {
	s := testService("test-secret")

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, c)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none-alg token: %v", err)
	}

	if _, err := s.ValidateToken(context.Background(), signed); err == nil {
		t.Fatal("none-algorithm token must be rejected")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	s := testService("test-secret")
	for _, token := range []string{"", "not-a-token", "aaa.bbb.ccc"} {
		if _, err := s.ValidateToken(context.Background(), token); err == nil {
			t.Errorf("token %q should be rejected", token)
		}
	}
}
