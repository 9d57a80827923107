// Package users registers users and gives each one a spreadsheet on first
// registration.
package users

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/store"
)

// ErrInvalidEmail is returned for addresses that fail validation.
var ErrInvalidEmail = eris.New("users: invalid email")

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Store is the user persistence the service needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	CreateUser(ctx context.Context, u model.User) error
	UpdateUserEmail(ctx context.Context, userID, email string) error
}

// SheetCreator creates a spreadsheet and returns its id.
type SheetCreator interface {
	Create(ctx context.Context, title string) (string, error)
}

// Service manages user registration.
type Service struct {
	sheets SheetCreator
	prefix string
	now    func() time.Time
}

// New creates a Service. Spreadsheets are titled "<prefix> <userID>".
func New(sheets SheetCreator, prefix string) *Service {
	if prefix == "" {
		prefix = "Places"
	}
	return &Service{sheets: sheets, prefix: prefix, now: time.Now}
}

// Register stores the email for userID. A new user gets a spreadsheet and
// created is true; an existing user only has the email replaced.
func (s *Service) Register(ctx context.Context, st Store, userID, email string) (*model.User, bool, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if userID == "" {
		return nil, false, eris.New("users: user id is required")
	}
	if !ValidEmail(email) {
		return nil, false, eris.Wrapf(ErrInvalidEmail, "%q", email)
	}

	existing, err := st.GetUser(ctx, userID)
	switch {
	case err == nil:
		if err := st.UpdateUserEmail(ctx, userID, email); err != nil {
			return nil, false, eris.Wrapf(err, "users: update %s", userID)
		}
		existing.Email = email
		zap.L().Info("users: email updated", zap.String("user_id", userID))
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, eris.Wrapf(err, "users: get %s", userID)
	}

	u := model.User{UserID: userID, Email: email, CreatedAt: s.now().UTC()}
	if s.sheets != nil {
		id, err := s.sheets.Create(ctx, s.prefix+" "+userID)
		if err != nil {
			return nil, false, eris.Wrapf(err, "users: create spreadsheet for %s", userID)
		}
		u.SpreadsheetID = &id
	}
	if err := st.CreateUser(ctx, u); err != nil {
		if u.SpreadsheetID != nil {
			zap.L().Warn("users: orphaned spreadsheet",
				zap.String("user_id", userID),
				zap.String("spreadsheet_id", *u.SpreadsheetID),
				zap.Error(err),
			)
		}
		return nil, false, eris.Wrapf(err, "users: create %s", userID)
	}
	zap.L().Info("users: registered",
		zap.String("user_id", userID),
		zap.String("spreadsheet_id", model.Deref(u.SpreadsheetID)),
	)
	return &u, true, nil
}

// Get returns the user or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, st Store, userID string) (*model.User, error) {
	u, err := st.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, eris.Wrapf(err, "users: get %s", userID)
	}
	return u, nil
}
