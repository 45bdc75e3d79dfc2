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

var errPolicyNotFound = errors.New("policy not found")

// PolicyRepository persists tenant access policies.
type PolicyRepository struct {
	policies *mongo.Collection
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *mongo.Database) *PolicyRepository {
	return &PolicyRepository{policies: db.Collection(PoliciesCollection)}
}

func (r *PolicyRepository) Create(ctx context.Context, policy *domain.Policy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if _, err := r.policies.InsertOne(ctx, policy); err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	var policy domain.Policy
	err := r.policies.FindOne(ctx, bson.M{"_id": id}).Decode(&policy)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errPolicyNotFound
		}
		return nil, fmt.Errorf("failed to load policy %s: %w", id, err)
	}
	return &policy, nil
}

func (r *PolicyRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Policy, error) {
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: -1}})
	cursor, err := r.policies.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer cursor.Close(ctx)

	var policies []*domain.Policy
	if err := cursor.All(ctx, &policies); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return policies, nil
}

func (r *PolicyRepository) Update(ctx context.Context, policy *domain.Policy) error {
	result, err := r.policies.ReplaceOne(ctx, bson.M{"_id": policy.ID}, policy)
	if err != nil {
		return fmt.Errorf("failed to update policy %s: %w", policy.ID, err)
	}
	if result.MatchedCount == 0 {
		return errPolicyNotFound
	}
	return nil
}

func (r *PolicyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.policies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return errPolicyNotFound
	}
	return nil
}

var _ domain.PolicyRepository = (*PolicyRepository)(nil)

// RBACPolicyRepository persists dynamic role grants.
type RBACPolicyRepository struct {
	policies *mongo.Collection
}

// NewRBACPolicyRepository creates a new RBACPolicyRepository.
func NewRBACPolicyRepository(db *mongo.Database) *RBACPolicyRepository {
	return &RBACPolicyRepository{policies: db.Collection(RBACPoliciesCollection)}
}

func (r *RBACPolicyRepository) Create(ctx context.Context, policy *domain.RBACPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if _, err := r.policies.InsertOne(ctx, policy); err != nil {
		return fmt.Errorf("failed to create rbac policy: %w", err)
	}
	return nil
}

func (r *RBACPolicyRepository) ListByOrgRole(ctx context.Context, orgID, role string) ([]*domain.RBACPolicy, error) {
	cursor, err := r.policies.Find(ctx, bson.M{"org_id": orgID, "role": role})
	if err != nil {
		return nil, fmt.Errorf("failed to list rbac policies: %w", err)
	}
	defer cursor.Close(ctx)

	var policies []*domain.RBACPolicy
	if err := cursor.All(ctx, &policies); err != nil {
		return nil, fmt.Errorf("failed to decode rbac policies: %w", err)
	}
	return policies, nil
}

func (r *RBACPolicyRepository) Update(ctx context.Context, policy *domain.RBACPolicy) error {
	result, err := r.policies.ReplaceOne(ctx, bson.M{"_id": policy.ID}, policy)
	if err != nil {
		return fmt.Errorf("failed to update rbac policy %s: %w", policy.ID, err)
	}
	if result.MatchedCount == 0 {
		return errPolicyNotFound
	}
	return nil
}

func (r *RBACPolicyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.policies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete rbac policy %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return errPolicyNotFound
	}
	return nil
}

var _ domain.RBACPolicyRepository = (*RBACPolicyRepository)(nil)

// AdaptivePolicyRepository persists risk-driven policies.
type AdaptivePolicyRepository struct {
	policies *mongo.Collection
}

// NewAdaptivePolicyRepository creates a new AdaptivePolicyRepository.
func NewAdaptivePolicyRepository(db *mongo.Database) *AdaptivePolicyRepository {
	return &AdaptivePolicyRepository{policies: db.Collection(AdaptivePoliciesCollection)}
}

func (r *AdaptivePolicyRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.AdaptivePolicy, error) {
	cursor, err := r.policies.Find(ctx, bson.M{"org_id": orgID})
	if err != nil {
		return nil, fmt.Errorf("failed to list adaptive policies: %w", err)
	}
	defer cursor.Close(ctx)

	var policies []*domain.AdaptivePolicy
	if err := cursor.All(ctx, &policies); err != nil {
		return nil, fmt.Errorf("failed to decode adaptive policies: %w", err)
	}
	return policies, nil
}

var _ domain.AdaptivePolicyRepository = (*AdaptivePolicyRepository)(nil)
