package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/pkg/database"
)

const queryInsertActivity = `
	INSERT INTO user_activities (id, user_id, activity, remote_addr, created_at)
	VALUES ($1, $2, $3, $4, $5)`

// ActivityRepository stores user activity rows.
type ActivityRepository struct {
	db database.DBTX
}

func NewActivityRepository(db database.DBTX) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create inserts an activity. An empty UserID is stored as NULL.
func (r *ActivityRepository) Create(ctx context.Context, a *domain.UserActivity) (err error) {
	ctx, end := database.TraceQuery(ctx, "user_activities.Create", queryInsertActivity)
	defer func() { err = end(err) }()

	var userID *string
	if a.UserID != "" {
		userID = &a.UserID
	}
	var remoteAddr *string
	if a.RemoteAddr != "" {
		remoteAddr = &a.RemoteAddr
	}

	if _, err := r.db.Exec(ctx, queryInsertActivity, a.ID, userID, string(a.Activity), remoteAddr, a.CreatedAt); err != nil {
		return fmt.Errorf("insert user activity: %w", err)
	}
	return nil
}
