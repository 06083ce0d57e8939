// Package account registers users and issues their credential tokens.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mediconnect/consult-relay/internal/auth"
	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/data"
	"github.com/mediconnect/consult-relay/internal/normalize"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type UserStore interface {
	CreateUser(ctx context.Context, email, hashedPassword, displayName string, role chat.Role) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	DeleteUser(ctx context.Context, id bson.ObjectID) error
}

type ProviderStore interface {
	CreateProvider(ctx context.Context, userID bson.ObjectID, displayName string) (*data.Provider, error)
	ProviderIDForUser(ctx context.Context, userID string) (string, error)
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"` // bcrypt ignores bytes past 72
	// DisplayName defaults to the email when blank.
	DisplayName string    `json:"displayName" validate:"max=120"`
	Role        chat.Role `json:"role" validate:"omitempty,oneof=patient provider"`
}

// GetEmail lets the rate limiter key on the account being attacked.
func (r *RegisterRequest) GetEmail() string { return r.Email }

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) GetEmail() string { return r.Email }

// Session is what register and login return.
type Session struct {
	Token      string    `json:"token"`
	UserID     string    `json:"userId"`
	Role       chat.Role `json:"role"`
	ProviderID string    `json:"providerId,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type Service struct {
	users     UserStore
	providers ProviderStore
	tokens    *auth.JWTManager
	validate  *validator.Validate
}

func NewService(users UserStore, providers ProviderStore, tokens *auth.JWTManager) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{users: users, providers: providers, tokens: tokens, validate: v}
}

// check runs the struct's validate tags and reports the first failure as a
// chat.ValidationError.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "required"
	case "email":
		reason = "must be a valid address"
	case "min":
		reason = fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		reason = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		reason = "must be one of: " + fe.Param()
	default:
		reason = "failed " + fe.Tag()
	}
	return &chat.ValidationError{Field: fe.Field(), Reason: reason}
}

// Register creates a user and, for providers, the provider profile bound to it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	req.Email = normalize.Email(req.Email)
	req.DisplayName = normalize.DisplayName(req.DisplayName)
	if err := s.check(&req); err != nil {
		return Session{}, err
	}
	email := req.Email
	role := req.Role
	if role == "" {
		role = chat.RolePatient
	}
	name := req.DisplayName
	if name == "" {
		name = email
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.CreateUser(ctx, email, hashed, name, role)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			return Session{}, ErrEmailTaken
		}
		return Session{}, err
	}

	var providerID string
	if role == chat.RoleProvider {
		prov, err := s.providers.CreateProvider(ctx, user.ID, name)
		if err != nil {
			if delErr := s.users.DeleteUser(ctx, user.ID); delErr != nil {
				slog.ErrorContext(ctx, "roll back user after provider failure", "user_id", user.ID.Hex(), "error", delErr)
			}
			return Session{}, err
		}
		providerID = prov.ID.Hex()
	}

	slog.InfoContext(ctx, "user registered", "user_id", user.ID.Hex(), "role", string(role))
	return s.session(user, providerID)
}

// Login checks the password and issues a fresh token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	req.Email = normalize.Email(req.Email)
	if err := s.check(&req); err != nil {
		return Session{}, err
	}
	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	var providerID string
	if user.Role == chat.RoleProvider {
		providerID, err = s.providers.ProviderIDForUser(ctx, user.ID.Hex())
		if err != nil {
			return Session{}, err
		}
	}
	return s.session(user, providerID)
}

func (s *Service) session(user *data.User, providerID string) (Session, error) {
	token, expiresAt, err := s.tokens.GenerateToken(user.ID.Hex(), user.Email, user.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:      token,
		UserID:     user.ID.Hex(),
		Role:       user.Role,
		ProviderID: providerID,
		ExpiresAt:  expiresAt,
	}, nil
}
