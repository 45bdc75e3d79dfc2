package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const (
	UsersCollection            = "users"
	MembershipsCollection      = "org_memberships"
	ClientsCollection          = "oauth_clients"
	IdPsCollection             = "identity_providers"
	PoliciesCollection         = "access_policies"
	RBACPoliciesCollection     = "rbac_policies"
	AdaptivePoliciesCollection = "adaptive_policies"
	SessionsCollection         = "sso_sessions"
	DeviceProfilesCollection   = "device_profiles"
	IPIntelCollection          = "ip_intel"
	LoginHistoryCollection     = "login_history"
)

// Connect opens an instrumented MongoDB connection and verifies it with a
// ping.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	log.Info().Str("db", dbName).Msg("connecting to MongoDB")

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info().Msg("MongoDB connection established")
	return client.Database(dbName), nil
}

// EnsureIndexes creates the indexes the repositories rely on. Safe to call
// on every startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{UsersCollection, mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{MembershipsCollection, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "org_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{IdPsCollection, mongo.IndexModel{
			Keys: bson.D{{Key: "org_id", Value: 1}},
		}},
		{PoliciesCollection, mongo.IndexModel{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "priority", Value: -1}},
		}},
		{RBACPoliciesCollection, mongo.IndexModel{
			Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "role", Value: 1}},
		}},
		{SessionsCollection, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}},
		{DeviceProfilesCollection, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "device_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{LoginHistoryCollection, mongo.IndexModel{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "login_at", Value: -1}},
		}},
	}

	for _, spec := range specs {
		if _, err := db.Collection(spec.collection).Indexes().CreateOne(ctx, spec.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", spec.collection, err)
		}
	}
	return nil
}
