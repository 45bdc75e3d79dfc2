package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
)

// ClientRepository persists registered OAuth clients.
type ClientRepository struct {
	clients *mongo.Collection
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{clients: db.Collection(ClientsCollection)}
}

func (r *ClientRepository) Create(ctx context.Context, client *domain.Client) error {
	if client.ClientID == "" {
		return errors.New("client_id cannot be empty")
	}
	if _, err := r.clients.InsertOne(ctx, client); err != nil {
		return fmt.Errorf("failed to create client %s: %w", client.ClientID, err)
	}
	return nil
}

func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	err := r.clients.FindOne(ctx, bson.M{"_id": clientID}).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, janerr.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to load client %s: %w", clientID, err)
	}
	return &client, nil
}

func (r *ClientRepository) Update(ctx context.Context, client *domain.Client) error {
	result, err := r.clients.ReplaceOne(ctx, bson.M{"_id": client.ClientID}, client)
	if err != nil {
		return fmt.Errorf("failed to update client %s: %w", client.ClientID, err)
	}
	if result.MatchedCount == 0 {
		return janerr.ErrClientNotFound
	}
	return nil
}

func (r *ClientRepository) Delete(ctx context.Context, clientID string) error {
	result, err := r.clients.DeleteOne(ctx, bson.M{"_id": clientID})
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}
	if result.DeletedCount == 0 {
		return janerr.ErrClientNotFound
	}
	return nil
}

var _ domain.ClientRepository = (*ClientRepository)(nil)
