package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"concurseiro-backend/internal/i18n"
	"concurseiro-backend/internal/middleware"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/repository"
)

const (
	verifyTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
	resendCooldown  = 60 * time.Second
	bcryptCost      = 12
	defaultLanguage = "pt-BR"
)

type userAccounts interface {
	Create(ctx context.Context, user *models.User, language string) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	VerifyEmail(ctx context.Context, userID uuid.UUID) error
	TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type verificationMailer interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
}

var errTokenNotFound = errors.New("token not found")

// tokenStore keeps the opaque tokens of the auth flows. Take is atomic, so a
// token can be redeemed once.
type tokenStore interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, error)
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Drop(ctx context.Context, key string) error
}

type redisTokens struct {
	rdb *redis.Client
}

func (t redisTokens) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return t.rdb.Set(ctx, key, value, ttl).Err()
}

func (t redisTokens) Take(ctx context.Context, key string) (string, error) {
	v, err := t.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errTokenNotFound
	}
	return v, err
}

func (t redisTokens) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return t.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (t redisTokens) Drop(ctx context.Context, key string) error {
	return t.rdb.Del(ctx, key).Err()
}

func verifyKey(token string) string     { return "email_verify:" + token }
func refreshKey(token string) string    { return "refresh:" + token }
func resendKey(userID uuid.UUID) string { return "resend_limit:" + userID.String() }

type AuthService struct {
	users    userAccounts
	tokens   tokenStore
	jwt      *middleware.JWTAuth
	email    verificationMailer
	log      *zap.Logger
	hashCost int
	now      func() time.Time
}

func NewAuthService(userRepo *repository.UserRepo, redisClient *redis.Client, jwt *middleware.JWTAuth, email *EmailService, log *zap.Logger) *AuthService {
	return &AuthService{
		users:    userRepo,
		tokens:   redisTokens{rdb: redisClient},
		jwt:      jwt,
		email:    email,
		log:      log,
		hashCost: bcryptCost,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

// Register creates an unverified account and mails its verification token.
// The token is also returned so non-production setups can skip the mailbox.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, string, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = normalizeEmail(req.Email)

	fieldErrors := make(map[string]string)
	if req.FullName == "" {
		fieldErrors["full_name"] = i18n.T(ctx, "FullNameRequired")
	}
	if !validEmail(req.Email) {
		fieldErrors["email"] = i18n.T(ctx, "InvalidEmail")
	}
	if msgID := passwordProblem(req.Password); msgID != "" {
		fieldErrors["password"] = i18n.T(ctx, msgID)
	}
	if len(fieldErrors) > 0 {
		return nil, "", &ValidationError{Fields: fieldErrors}
	}

	_, err := s.users.GetByEmail(ctx, req.Email)
	if err == nil {
		return nil, "", &ConflictError{Message: i18n.T(ctx, "EmailInUse")}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = defaultLanguage
	}
	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
	}
	if err := s.users.Create(ctx, user, lang); err != nil {
		return nil, "", err
	}

	token, err := s.newVerification(ctx, user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.AuthTokens, error) {
	userID, err := s.redeem(ctx, verifyKey(token))
	if err != nil {
		if errors.Is(err, errTokenNotFound) {
			return nil, &NotFoundError{Message: i18n.T(ctx, "InvalidVerificationToken")}
		}
		return nil, err
	}

	if err := s.users.VerifyEmail(ctx, userID); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	invalid := &UnauthorizedError{Message: i18n.T(ctx, "InvalidCredentials")}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, invalid
	}
	if !user.IsVerified {
		return nil, &ForbiddenError{Message: i18n.T(ctx, "EmailNotVerified")}
	}
	if !user.IsActive {
		return nil, &UnauthorizedError{Message: i18n.T(ctx, "AccountDeactivated")}
	}

	if err := s.users.TouchLogin(ctx, user.ID, s.now()); err != nil {
		s.log.Warn("failed to update last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	return s.issueTokens(ctx, user)
}

// RefreshToken rotates the refresh token: the presented one is consumed
// whether or not the rest of the exchange succeeds.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	userID, err := s.redeem(ctx, refreshKey(refreshToken))
	if err != nil {
		if errors.Is(err, errTokenNotFound) {
			return nil, &UnauthorizedError{Message: i18n.T(ctx, "InvalidRefreshToken")}
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, &UnauthorizedError{Message: i18n.T(ctx, "AccountDeactivated")}
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Drop(ctx, refreshKey(refreshToken))
}

func (s *AuthService) ResendVerification(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &NotFoundError{Message: i18n.T(ctx, "UserNotFound")}
	}
	if err != nil {
		return "", err
	}
	if user.IsVerified {
		return "", &ConflictError{Message: i18n.T(ctx, "EmailAlreadyVerified")}
	}

	claimed, err := s.tokens.Claim(ctx, resendKey(user.ID), resendCooldown)
	if err != nil {
		return "", fmt.Errorf("claim resend slot: %w", err)
	}
	if !claimed {
		return "", &RateLimitError{Message: i18n.T(ctx, "ResendCooldown")}
	}

	return s.newVerification(ctx, user)
}

func (s *AuthService) redeem(ctx context.Context, key string) (uuid.UUID, error) {
	raw, err := s.tokens.Take(ctx, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt token value under %s: %w", key, err)
	}
	return id, nil
}

func (s *AuthService) newVerification(ctx context.Context, user *models.User) (string, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.tokens.Put(ctx, verifyKey(token), user.ID.String(), verifyTokenTTL); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	// the request may finish first; keep its values, drop its deadline
	mailCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.email.SendVerificationEmail(mailCtx, user.Email, token); err != nil {
			s.log.Error("verification email failed", zap.String("to", user.Email), zap.Error(err))
		}
	}()
	return token, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*models.AuthTokens, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user.ID, user.Email, user.Plan)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := generateToken(64)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Put(ctx, refreshKey(refreshToken), user.ID.String(), refreshTokenTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &models.AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(middleware.AccessTokenTTL / time.Second),
	}, nil
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// passwordProblem returns the message id of the first rule pw breaks.
func passwordProblem(pw string) string {
	if utf8.RuneCountInString(pw) < 8 {
		return "PasswordTooShort"
	}
	if strings.IndexFunc(pw, unicode.IsDigit) < 0 {
		return "PasswordNeedsDigit"
	}
	return ""
}
