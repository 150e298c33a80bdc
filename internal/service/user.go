package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/repository"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// ActivityPublisher publishes recorded activities. *event.Producer
// implements it.
type ActivityPublisher interface {
	PublishActivity(ctx context.Context, activity *domain.UserActivity, user *domain.User) error
}

// UserService maps verified external identities to internal users and
// keeps the activity audit trail.
type UserService struct {
	userRepo     repository.UserRepository
	activityRepo repository.ActivityRepository
	publisher    ActivityPublisher
	logger       *slog.Logger
	now          func() time.Time
}

// NewUserService creates a new user service. publisher may be nil.
func NewUserService(
	userRepo repository.UserRepository,
	activityRepo repository.ActivityRepository,
	publisher ActivityPublisher,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		userRepo:     userRepo,
		activityRepo: activityRepo,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

// GetOrCreateUser returns the user mapped to claim's external identity,
// creating it on first sight. created reports whether this call created it.
// Two concurrent first sights yield one user: the losing insert fails on the
// provider key and the winner's row is returned.
func (s *UserService) GetOrCreateUser(ctx context.Context, claim *domain.IdentityClaim, remoteAddr string) (user *domain.User, created bool, err error) {
	if claim == nil {
		return nil, false, apperrors.Argument("claim")
	}
	if claim.Subject == "" {
		return nil, false, apperrors.Argument("claim.subject")
	}
	provider := claim.Provider()

	user, err = s.userRepo.GetByProvider(ctx, provider, claim.Subject)
	switch {
	case err == nil:
		s.recordActivity(ctx, domain.ActivityLogin, user, user.ID, remoteAddr)
		return user, false, nil
	case !apperrors.IsKind(err, apperrors.KindNotFound):
		return nil, false, fmt.Errorf("get user by provider: %w", err)
	}

	user = domain.NewUserFromClaim(uuid.New().String(), claim, s.now().UTC())
	if err := s.userRepo.CreateWithProvider(ctx, user, provider, claim.Subject); err != nil {
		if !errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("create user: %w", err)
		}
		existing, getErr := s.userRepo.GetByProvider(ctx, provider, claim.Subject)
		if getErr != nil {
			return nil, false, fmt.Errorf("get user after concurrent create: %w", getErr)
		}
		s.recordActivity(ctx, domain.ActivityLogin, existing, existing.ID, remoteAddr)
		return existing, false, nil
	}

	s.logger.InfoContext(ctx, "user signed up",
		slog.String("user_id", user.ID),
		slog.String("provider", provider),
	)
	s.recordActivity(ctx, domain.ActivitySignUp, user, user.ID, remoteAddr)
	return user, true, nil
}

// GetUserByID retrieves a user by id.
func (s *UserService) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, apperrors.Argument("userId")
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// EnsureExists fails with NotFound unless a user with id exists.
func (s *UserService) EnsureExists(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.Argument("userId")
	}
	ok, err := s.userRepo.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if !ok {
		return apperrors.NotFoundMessage("User not found.")
	}
	return nil
}

// RecordActivity persists an activity row and publishes its event. userID
// is empty for failed logins. A publish failure is logged and otherwise
// ignored.
func (s *UserService) RecordActivity(ctx context.Context, activity domain.Activity, userID, remoteAddr string) error {
	if !activity.IsValid() {
		return apperrors.InvalidInput(fmt.Sprintf("unknown activity %q", activity))
	}
	return s.record(ctx, activity, nil, userID, remoteAddr)
}

// recordActivity is RecordActivity for flows where audit failures must not
// fail the request.
func (s *UserService) recordActivity(ctx context.Context, activity domain.Activity, user *domain.User, userID, remoteAddr string) {
	if err := s.record(ctx, activity, user, userID, remoteAddr); err != nil {
		s.logger.ErrorContext(ctx, "failed to record user activity",
			slog.String("activity", string(activity)),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *UserService) record(ctx context.Context, activity domain.Activity, user *domain.User, userID, remoteAddr string) error {
	a := &domain.UserActivity{
		ID:         uuid.New().String(),
		UserID:     userID,
		Activity:   activity,
		RemoteAddr: remoteAddr,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.activityRepo.Create(ctx, a); err != nil {
		return fmt.Errorf("create user activity: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishActivity(ctx, a, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish activity event",
				slog.String("activity", string(activity)),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
