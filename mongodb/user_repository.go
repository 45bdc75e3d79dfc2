package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
)

// UserRepository persists users and organization memberships.
type UserRepository struct {
	users       *mongo.Collection
	memberships *mongo.Collection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		users:       db.Collection(UsersCollection),
		memberships: db.Collection(MembershipsCollection),
	}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, err := r.users.InsertOne(ctx, user); err != nil {
		var writeErr mongo.WriteException
		if errors.As(err, &writeErr) {
			for _, we := range writeErr.WriteErrors {
				if we.Code == 11000 {
					return fmt.Errorf("user with email %s already exists: %w", user.Email, err)
				}
			}
		}
		log.Ctx(ctx).Error().Err(err).Str("email", user.Email).Msg("failed to insert user")
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, janerr.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, janerr.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	result, err := r.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	if result.MatchedCount == 0 {
		return janerr.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) GetMembership(ctx context.Context, userID, orgID string) (*domain.OrgMembership, error) {
	var m domain.OrgMembership
	err := r.memberships.FindOne(ctx, bson.M{"user_id": userID, "org_id": orgID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, janerr.ErrNoMembership
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return &m, nil
}

func (r *UserRepository) SetMembership(ctx context.Context, m *domain.OrgMembership) error {
	filter := bson.M{"user_id": m.UserID, "org_id": m.OrgID}
	update := bson.M{"$set": m}
	opts := options.Update().SetUpsert(true)
	if _, err := r.memberships.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to set membership: %w", err)
	}
	log.Ctx(ctx).Debug().
		Str("user_id", m.UserID).
		Str("org_id", m.OrgID).
		Str("role", m.Role).
		Msg("membership updated")
	return nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
