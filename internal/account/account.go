// Package account manages the teacher accounts behind the web shell:
// self-registration, sign-in sessions and password resets. The account's
// Name is what the welcome banner greets.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/d9705996/rollcall/internal/auth"
	"github.com/d9705996/rollcall/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RoleTeacher is granted to self-registered accounts.
const RoleTeacher = "Teacher"

var (
	// ErrRegistrationClosed is returned by Register when self-registration
	// is switched off.
	ErrRegistrationClosed = errors.New("registration is closed")
	// ErrEmailTaken is returned by Register for an address already in use.
	ErrEmailTaken = errors.New("email is already registered")
	// ErrInvalidCredentials covers unknown emails, wrong passwords and
	// deactivated accounts alike.
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	// ErrSessionInvalid is returned when a refresh token cannot be used.
	ErrSessionInvalid = errors.New("session is invalid or expired")
	// ErrResetTokenInvalid is returned for unknown, spent or expired reset
	// tokens.
	ErrResetTokenInvalid = errors.New("password reset token is invalid or expired")
	// ErrNotFound is returned when a user id names no active account.
	ErrNotFound = errors.New("account not found")
)

// FieldError reports a problem with one named input field.
type FieldError struct {
	Field  string
	Code   string
	Detail string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Detail }

func fieldError(field, code, detail string) *FieldError {
	return &FieldError{Field: field, Code: code, Detail: detail}
}

// Options configures a Service.
type Options struct {
	JWTSecret         string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	ResetTTL          time.Duration
	MinPasswordLength int
	AllowRegistration bool
	Notifier          ResetNotifier
	Now               func() time.Time // defaults to time.Now
	Logger            *slog.Logger
}

// Service implements the account flows over GORM.
type Service struct {
	db      *gorm.DB
	refresh *auth.RefreshStore
	opts    Options
	log     *slog.Logger
}

// New returns a Service over db.
func New(db *gorm.DB, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	return &Service{
		db:      db,
		refresh: auth.NewRefreshStore(db, opts.Now),
		opts:    opts,
		log:     opts.Logger,
	}
}

// Session is the result of a sign-in or refresh.
type Session struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration // lifetime of AccessToken
}

// Registration is the input of Register.
type Registration struct {
	Email    string
	Name     string
	Password string
	Confirm  string
	School   string // optional; joined by name, created when new
}

// Register creates a Teacher account.
func (s *Service) Register(ctx context.Context, in Registration) (*model.User, error) {
	if !s.opts.AllowRegistration {
		return nil, ErrRegistrationClosed
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fieldError("name", "missing_field", "name is required")
	}
	if err := s.checkPassword(in.Password, in.Confirm); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Roles:        model.StringSlice{RoleTeacher},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if n > 0 {
			return ErrEmailTaken
		}
		if school := strings.TrimSpace(in.School); school != "" {
			id, err := joinSchool(tx, school)
			if err != nil {
				return err
			}
			u.SchoolID = &id
		}
		if err := tx.Create(u).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordEvent(ctx, "registered")
	s.log.Info("teacher registered", "user_id", u.ID, "email", u.Email)
	return u, nil
}

// joinSchool returns the id of the school called name, creating it first
// when no school has that slug.
func joinSchool(tx *gorm.DB, name string) (string, error) {
	slug := Slugify(name)
	if slug == "" {
		return "", fieldError("school", "invalid_field", "school name needs at least one letter or digit")
	}
	school := model.School{Name: name, Slug: slug}
	if err := tx.Where(model.School{Slug: slug}).FirstOrCreate(&school).Error; err != nil {
		return "", fmt.Errorf("join school: %w", err)
	}
	return school.ID, nil
}

// Login checks a password and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, fieldError("password", "missing_field", "email and password are required")
	}
	u, err := s.activeUser(ctx, "email = ?", email)
	if errors.Is(err, ErrNotFound) {
		recordEvent(ctx, "login_failed")
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		recordEvent(ctx, "login_failed")
		return Session{}, ErrInvalidCredentials
	}
	recordEvent(ctx, "login")

	refresh, err := s.refresh.IssueRefreshToken(ctx, u.ID, s.opts.RefreshTTL)
	if err != nil {
		return Session{}, err
	}
	return s.session(u, refresh)
}

// Refresh spends a refresh token and opens a new session for its user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, fieldError("refresh_token", "missing_field", "refresh_token is required")
	}
	next, userID, err := s.refresh.RotateRefreshToken(ctx, refreshToken, s.opts.RefreshTTL)
	if errors.Is(err, auth.ErrRefreshTokenInvalid) {
		return Session{}, ErrSessionInvalid
	}
	if err != nil {
		return Session{}, err
	}
	u, err := s.activeUser(ctx, "id = ?", userID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrSessionInvalid
	}
	if err != nil {
		return Session{}, err
	}
	return s.session(u, next)
}

// Logout revokes a refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fieldError("refresh_token", "missing_field", "refresh_token is required")
	}
	return s.refresh.RevokeRefreshToken(ctx, refreshToken)
}

// User returns the active account with id.
func (s *Service) User(ctx context.Context, id string) (*model.User, error) {
	return s.activeUser(ctx, "id = ?", id)
}

func (s *Service) activeUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where(query, arg).Where("deactivated_at IS NULL").First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (s *Service) session(u *model.User, refresh string) (Session, error) {
	sub := auth.Subject{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Roles:  []string(u.Roles),
	}
	if u.SchoolID != nil {
		sub.SchoolID = *u.SchoolID
	}
	access, err := auth.IssueAccessToken(sub, s.opts.JWTSecret, s.opts.AccessTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	return Session{User: u, AccessToken: access, RefreshToken: refresh, ExpiresIn: s.opts.AccessTTL}, nil
}

func (s *Service) checkPassword(password, confirm string) error {
	if len([]rune(password)) < s.opts.MinPasswordLength {
		return fieldError("password", "weak_password",
			fmt.Sprintf("password must be at least %d characters", s.opts.MinPasswordLength))
	}
	if password != confirm {
		return fieldError("confirm", "password_mismatch", "passwords do not match")
	}
	return nil
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fieldError("email", "missing_field", "email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fieldError("email", "invalid_field", "email must be a plain address like name@school.org")
	}
	return strings.ToLower(addr.Address), nil
}

// Slugify lowercases name and joins its letter and digit runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
