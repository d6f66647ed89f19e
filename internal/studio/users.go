package studio

import (
	"context"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"avatar-studio/internal/plan"
	"avatar-studio/internal/repo"
)

// Users manages accounts.
type Users struct {
	*base
}

// CreateUserInput is the signup payload.
type CreateUserInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PlanID      string `json:"plan_id"`
}

// Validate checks the signup payload.
func (in CreateUserInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Email, v.Required, is.EmailFormat),
		v.Field(&in.DisplayName, v.Length(0, 120)),
		v.Field(&in.PlanID, v.In("", "free", "pro", "enterprise")),
	)
}

// Create registers a user with zeroed usage counters.
func (u *Users) Create(ctx context.Context, in CreateUserInput) (*repo.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := in.Validate(); err != nil {
		return nil, err
	}
	nu := repo.NewUser{Email: in.Email, PlanID: in.PlanID}
	if name := strings.TrimSpace(in.DisplayName); name != "" {
		nu.DisplayName = &name
	}
	user, err := u.Store.CreateUser(ctx, nu)
	if err != nil {
		return nil, err
	}
	u.logger.Info("user created", "user_id", user.ID, "plan_id", user.PlanID)
	return user, nil
}

// Get returns the user.
func (u *Users) Get(ctx context.Context, userID string) (*repo.User, error) {
	return u.Store.GetUserByID(ctx, userID)
}

// Usage summarizes the user's plan consumption.
func (u *Users) Usage(ctx context.Context, userID string) (*plan.Summary, error) {
	return u.Gate.Summary(ctx, userID)
}

// Delete removes a user and everything they own. Running polls for the
// user's contents are cancelled first.
func (u *Users) Delete(ctx context.Context, userID string) error {
	if u.Tracker != nil {
		infs, err := u.Store.ListInfluencers(ctx, userID)
		if err != nil {
			return err
		}
		for _, inf := range infs {
			u.Tracker.Cancel(repo.Deref(inf.JobID))
			contents, err := u.Store.ListContents(ctx, inf.ID)
			if err != nil {
				return err
			}
			for _, c := range contents {
				u.Tracker.Cancel(repo.Deref(c.JobID))
			}
		}
	}
	if err := u.Store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	u.logger.Info("user deleted", "user_id", userID)
	return nil
}
