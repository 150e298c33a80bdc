package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/authgate/internal/domain"
	pkgkafka "github.com/utafrali/authgate/pkg/kafka"
	"github.com/utafrali/authgate/pkg/logger"
)

// Kafka topic constants for auth activity events.
const (
	TopicUserSignedUp        = "auth.user.signed_up"
	TopicUserLoggedIn        = "auth.user.logged_in"
	TopicUserLoginFailed     = "auth.user.login_failed"
	TopicUserLockedOut       = "auth.user.locked_out"
	TopicRefreshTokenReused  = "auth.refresh_token.reused"
	TopicUserSessionsRevoked = "auth.user.sessions_revoked"
)

// Aggregate type constants. Activities without a resolved user are keyed by
// the caller's remote address.
const (
	AggregateTypeUser       = "user"
	AggregateTypeRemoteAddr = "remote_addr"
)

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "authgate"

var topics = map[domain.Activity]string{
	domain.ActivitySignUp:             TopicUserSignedUp,
	domain.ActivityLogin:              TopicUserLoggedIn,
	domain.ActivityLoginAttemptFailed: TopicUserLoginFailed,
	domain.ActivityLockedOut:          TopicUserLockedOut,
	domain.ActivityInvalidRefresh:     TopicRefreshTokenReused,
	domain.ActivitySessionsRevoked:    TopicUserSessionsRevoked,
}

// TopicFor returns the topic activity is published to.
func TopicFor(activity domain.Activity) (string, bool) {
	topic, ok := topics[activity]
	return topic, ok
}

// ActivityData is the payload of every activity event.
type ActivityData struct {
	ActivityID string    `json:"activity_id"`
	Activity   string    `json:"activity"`
	UserID     string    `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Producer publishes auth activity events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishActivity publishes a to its activity topic. user is optional and
// only contributes the email.
func (p *Producer) PublishActivity(ctx context.Context, a *domain.UserActivity, user *domain.User) error {
	topic, ok := TopicFor(a.Activity)
	if !ok {
		return fmt.Errorf("no topic for activity %q", a.Activity)
	}

	data := ActivityData{
		ActivityID: a.ID,
		Activity:   string(a.Activity),
		UserID:     a.UserID,
		RemoteAddr: a.RemoteAddr,
		OccurredAt: a.CreatedAt,
	}
	if user != nil {
		data.Email = user.Email
	}

	aggregateID, aggregateType := a.UserID, AggregateTypeUser
	if aggregateID == "" {
		aggregateID, aggregateType = a.RemoteAddr, AggregateTypeRemoteAddr
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published activity event",
		slog.String("topic", topic),
		slog.String("user_id", a.UserID),
	)

	return nil
}
