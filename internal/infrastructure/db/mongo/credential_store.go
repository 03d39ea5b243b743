package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gigmarket/identity/internal/core/domain"
)

const (
	usersCollection    = "users"
	countersCollection = "counters"
	userSequence       = "users"
)

// CredentialStore keeps accounts in the users collection. Every mutation is
// a single-document update whose filter carries its precondition, so
// concurrent writers to the same account cannot interleave.
type CredentialStore struct {
	users    *mongo.Collection
	counters *mongo.Collection
}

func NewCredentialStore(db *mongo.Database) *CredentialStore {
	return &CredentialStore{
		users:    db.Collection(usersCollection),
		counters: db.Collection(countersCollection),
	}
}

type mongoReset struct {
	TokenHash  string     `bson:"token_hash"`
	OTPHash    string     `bson:"otp_hash"`
	IssuedAt   time.Time  `bson:"issued_at"`
	ExpiresAt  time.Time  `bson:"expires_at"`
	VerifiedAt *time.Time `bson:"verified_at,omitempty"`
}

type mongoUser struct {
	ObjectID     primitive.ObjectID `bson:"_id,omitempty"`
	ID           int64              `bson:"user_id"`
	FullName     string             `bson:"full_name"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password_hash"`
	Role         string             `bson:"role"`
	Reset        *mongoReset        `bson:"reset,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

// EnsureIndexes creates the unique email and id indexes the store relies on
// for atomic signup, plus a lookup index on the reset token hash.
func (r *CredentialStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "reset.token_hash", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("ensure user indexes: %w", err)
	}
	return nil
}

func (r *CredentialStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": userSequence},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocate user id: %w", err)
	}
	return counter.Seq, nil
}

func (r *CredentialStore) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	id, err := r.nextID(ctx)
	if err != nil {
		return nil, err
	}

	doc := mongoUser{
		ID:           id,
		FullName:     user.FullName,
		Email:        domain.NormalizeEmail(user.Email),
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}

	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return toDomain(doc), nil
}

func (r *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": domain.NormalizeEmail(email)})
}

func (r *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"user_id": id})
}

func (r *CredentialStore) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	return r.findOne(ctx, bson.M{
		"reset.token_hash": tokenHash,
		"reset.expires_at": bson.M{"$gt": now},
	})
}

func (r *CredentialStore) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var mu mongoUser
	if err := r.users.FindOne(ctx, filter).Decode(&mu); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return toDomain(mu), nil
}

func (r *CredentialStore) SaveResetToken(ctx context.Context, email string, secret domain.ResetSecret) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{"email": domain.NormalizeEmail(email)},
		bson.M{"$set": bson.M{
			"reset": mongoReset{
				TokenHash: secret.TokenHash,
				OTPHash:   secret.OTPHash,
				IssuedAt:  secret.IssuedAt,
				ExpiresAt: secret.ExpiresAt,
			},
			"updated_at": secret.IssuedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *CredentialStore) MarkResetVerified(ctx context.Context, email, otpHash string, now time.Time) error {
	email = domain.NormalizeEmail(email)
	res, err := r.users.UpdateOne(ctx,
		bson.M{
			"email":            email,
			"reset.otp_hash":   otpHash,
			"reset.expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{"reset.verified_at": now}},
	)
	if err != nil {
		return fmt.Errorf("verify reset: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.users.CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return fmt.Errorf("verify reset: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return domain.ErrResetTokenInvalid
}

func (r *CredentialStore) UpdatePassword(ctx context.Context, id int64, newHash string) error {
	res, err := r.users.UpdateOne(ctx, bson.M{"user_id": id}, passwordUpdate(newHash, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *CredentialStore) ConsumeReset(ctx context.Context, id int64, tokenHash, newHash string, now time.Time) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{
			"user_id":          id,
			"reset.token_hash": tokenHash,
			"reset.expires_at": bson.M{"$gt": now},
		},
		passwordUpdate(newHash, now),
	)
	if err != nil {
		return fmt.Errorf("consume reset: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrResetTokenInvalid
	}
	return nil
}

// passwordUpdate writes the hash and drops the reset cycle in the same update.
func passwordUpdate(newHash string, now time.Time) bson.M {
	return bson.M{
		"$set":   bson.M{"password_hash": newHash, "updated_at": now},
		"$unset": bson.M{"reset": ""},
	}
}

func toDomain(mu mongoUser) *domain.User {
	u := &domain.User{
		ID:           mu.ID,
		FullName:     mu.FullName,
		Email:        mu.Email,
		PasswordHash: mu.PasswordHash,
		Role:         domain.Role(mu.Role),
		CreatedAt:    mu.CreatedAt.UTC(),
		UpdatedAt:    mu.UpdatedAt.UTC(),
	}
	if mu.Reset != nil {
		u.Reset = &domain.ResetSecret{
			TokenHash:  mu.Reset.TokenHash,
			OTPHash:    mu.Reset.OTPHash,
			IssuedAt:   mu.Reset.IssuedAt.UTC(),
			ExpiresAt:  mu.Reset.ExpiresAt.UTC(),
			VerifiedAt: mu.Reset.VerifiedAt,
		}
	}
	return u
}
