package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/janua-io/janua/domain"
)

// DeviceRepository stores device profiles, IP intelligence and login
// history for risk scoring.
type DeviceRepository struct {
	profiles *mongo.Collection
	intel    *mongo.Collection
	logins   *mongo.Collection
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *mongo.Database) *DeviceRepository {
	return &DeviceRepository{
		profiles: db.Collection(DeviceProfilesCollection),
		intel:    db.Collection(IPIntelCollection),
		logins:   db.Collection(LoginHistoryCollection),
	}
}

func (r *DeviceRepository) GetProfile(ctx context.Context, userID, deviceID string) (*domain.DeviceProfile, error) {
	var profile domain.DeviceProfile
	err := r.profiles.FindOne(ctx, bson.M{"user_id": userID, "device_id": deviceID}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load device profile: %w", err)
	}
	return &profile, nil
}

func (r *DeviceRepository) SaveProfile(ctx context.Context, profile *domain.DeviceProfile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	filter := bson.M{"user_id": profile.UserID, "device_id": profile.DeviceID}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.profiles.ReplaceOne(ctx, filter, profile, opts); err != nil {
		return fmt.Errorf("failed to save device profile: %w", err)
	}
	return nil
}

func (r *DeviceRepository) GetIPIntel(ctx context.Context, ip string) (*domain.IPIntel, error) {
	var intel domain.IPIntel
	err := r.intel.FindOne(ctx, bson.M{"_id": ip}).Decode(&intel)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load ip intel: %w", err)
	}
	return &intel, nil
}

func (r *DeviceRepository) LastLogin(ctx context.Context, userID string) (*domain.LoginRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "login_at", Value: -1}})
	var rec domain.LoginRecord
	err := r.logins.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load last login: %w", err)
	}
	return &rec, nil
}

func (r *DeviceRepository) RecordLogin(ctx context.Context, rec *domain.LoginRecord) error {
	if _, err := r.logins.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

var _ domain.DeviceRepository = (*DeviceRepository)(nil)
