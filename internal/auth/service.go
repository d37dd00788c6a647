package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/models"
)

// tokenTTL is long-lived because the client is a phone app without a
// refresh-token flow.
const tokenTTL = 30 * 24 * time.Hour

// ProvisionFunc creates the entitlement row for a new user within the signup
// transaction. Provided by main as a closure over the ledger repository so a
// user can never exist without an allowance record.
type ProvisionFunc func(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) error

type Service interface {
	Signup(ctx context.Context, email, password, displayName string) (*models.User, string, error)
	Login(ctx context.Context, email, password string) (*models.User, string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type service struct {
	repo      *Repository
	provision ProvisionFunc
	secret    []byte
	now       func() time.Time
}

func NewService(repo *Repository, provision ProvisionFunc, secret string) Service {
	return &service{repo: repo, provision: provision, secret: []byte(secret), now: time.Now}
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

func (s *service) Signup(ctx context.Context, email, password, displayName string) (*models.User, string, error) {
	const op = "auth.Signup"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", domain.Invalid(op, "A valid email address is required.")
	}
	if len(password) < 8 {
		return nil, "", domain.Invalid(op, "Password must be at least 8 characters.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", domain.Internal(err, op, "")
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, "", domain.Internal(err, op, "")
	}
	defer tx.Rollback(ctx)

	user, err := s.repo.CreateTx(ctx, tx, email, string(hash), strings.TrimSpace(displayName))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, "", domain.Conflict(op, "An account with this email already exists.")
		}
		return nil, "", domain.Internal(err, op, "")
	}
	if err := s.provision(ctx, tx, user.ID, s.now().UTC()); err != nil {
		return nil, "", domain.Internal(err, op, "")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", domain.Internal(err, op, "")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", domain.Internal(err, op, "")
	}
	return user, token, nil
}

func (s *service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	const op = "auth.Login"

	email = strings.ToLower(strings.TrimSpace(email))
	user, hash, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", domain.Internal(err, op, "")
	}
	if user == nil {
		return nil, "", domain.Unauthorized(op, "Invalid email or password.")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, "", domain.Unauthorized(op, "Invalid email or password.")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", domain.Internal(err, op, "")
	}
	return user, token, nil
}

func (s *service) issueToken(user *models.User) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email: user.Email,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	const op = "auth.ValidateToken"

	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, domain.Unauthorized(op, "Invalid or expired token.")
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, domain.Unauthorized(op, "Invalid or expired token.")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, domain.Unauthorized(op, "Invalid or expired token.")
	}
	return id, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "auth.GetUser"

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, domain.Internal(err, op, "")
	}
	if user == nil {
		return nil, domain.NotFound(op, "user", id.String())
	}
	return user, nil
}
