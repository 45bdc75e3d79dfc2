package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
)

// IdPRepository persists identity provider configurations. Secret fields
// arrive already encrypted.
type IdPRepository struct {
	idps *mongo.Collection
}

// NewIdPRepository creates a new IdPRepository.
func NewIdPRepository(db *mongo.Database) *IdPRepository {
	return &IdPRepository{idps: db.Collection(IdPsCollection)}
}

func (r *IdPRepository) Create(ctx context.Context, idp *domain.IdentityProvider) error {
	if _, err := r.idps.InsertOne(ctx, idp); err != nil {
		return fmt.Errorf("failed to create identity provider: %w", err)
	}
	return nil
}

func (r *IdPRepository) GetByID(ctx context.Context, id string) (*domain.IdentityProvider, error) {
	var idp domain.IdentityProvider
	err := r.idps.FindOne(ctx, bson.M{"_id": id}).Decode(&idp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, janerr.ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to load identity provider %s: %w", id, err)
	}
	return &idp, nil
}

func (r *IdPRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.IdentityProvider, error) {
	cursor, err := r.idps.Find(ctx, bson.M{"org_id": orgID})
	if err != nil {
		return nil, fmt.Errorf("failed to list identity providers: %w", err)
	}
	defer cursor.Close(ctx)

	var idps []*domain.IdentityProvider
	if err := cursor.All(ctx, &idps); err != nil {
		return nil, fmt.Errorf("failed to decode identity providers: %w", err)
	}
	return idps, nil
}

func (r *IdPRepository) Update(ctx context.Context, idp *domain.IdentityProvider) error {
	idp.UpdatedAt = time.Now().UTC()
	result, err := r.idps.ReplaceOne(ctx, bson.M{"_id": idp.ID}, idp)
	if err != nil {
		return fmt.Errorf("failed to update identity provider %s: %w", idp.ID, err)
	}
	if result.MatchedCount == 0 {
		return janerr.ErrProviderNotFound
	}
	return nil
}

func (r *IdPRepository) Delete(ctx context.Context, id string) error {
	result, err := r.idps.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete identity provider %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return janerr.ErrProviderNotFound
	}
	return nil
}

var _ domain.IdPRepository = (*IdPRepository)(nil)
