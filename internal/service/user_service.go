package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/config"
	"github.com/bank-cards/card-service/internal/models"
)

// UserService handles registration, authentication and owner resolution.
type UserService struct {
	store  Store
	log    *logrus.Logger
	config *config.Config
}

// NewUserService initializes a new user service
func NewUserService(store Store, log *logrus.Logger, cfg *config.Config) *UserService {
	return &UserService{store: store, log: log, config: cfg}
}

// Register creates a new user with a bcrypt-hashed password and role USER.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	if len(username) < 3 {
		return nil, apperr.Validation("username too short")
	}
	if len(password) < 6 {
		return nil, apperr.Validation("password too short")
	}
	if _, err := s.store.FindUserByUsername(ctx, username); err == nil {
		return nil, apperr.Validation("username taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleUser,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Username)
	return user, nil
}

// Login authenticates a user and returns a signed JWT.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return "", apperr.Forbidden("bad credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperr.Forbidden("bad credentials")
	}
	return s.Token(user)
}

// Token mints an HS256 JWT for the given user: subject is the username,
// role travels as a claim.
func (s *UserService) Token(user *models.User) (string, error) {
	exp := time.Duration(s.config.JWTExpMinutes) * time.Minute
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.Username,
		"role": user.Role,
		"iat":  jwt.NewNumericDate(time.Now()),
		"exp":  jwt.NewNumericDate(time.Now().Add(exp)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	s.log.Infof("User logged in: %s", user.Username)
	return tokenString, nil
}

// ByUsername resolves an owner identity.
func (s *UserService) ByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.store.FindUserByUsername(ctx, username)
}
