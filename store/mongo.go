package store

import (
	"context"
	"errors"
	"time"

	"github.com/shoplite/usersbackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo implements UserStore on a MongoDB users collection.
type Mongo struct {
	users *mongo.Collection
}

func NewMongo(users *mongo.Collection) *Mongo {
	return &Mongo{users: users}
}

// EnsureIndexes creates the unique email index. Uniqueness of the normalized
// email is enforced here, not in application code.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Mongo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Mongo) FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Mongo) Insert(ctx context.Context, u *models.User) error {
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *Mongo) UpdateFields(ctx context.Context, id bson.ObjectID, patch Patch) (*models.User, error) {
	update := buildUpdate(patch)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		if isDuplicateKey(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return &user, nil
}

func (s *Mongo) ConsumeToken(ctx context.Context, kind TokenKind, hash string, cond Patch, patch Patch) (*models.User, error) {
	filter := bson.M{
		kind.TokenField():  hash,
		kind.ExpiryField(): bson.M{"$gt": time.Now().UTC()},
	}
	for k, v := range cond {
		filter[k] = v
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range patch {
		set[k] = v
	}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{kind.TokenField(): "", kind.ExpiryField(): ""},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	if err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoTokenMatch
		}
		return nil, err
	}
	return &user, nil
}

func (s *Mongo) FindByTokenHash(ctx context.Context, kind TokenKind, hash string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{kind.TokenField(): hash}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Mongo) SetActive(ctx context.Context, id bson.ObjectID, active bool) (*models.User, error) {
	filter := bson.M{"_id": id, "isActive": !active}
	update := bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	// No match: either the account is gone or it is already in that state.
	if _, ferr := s.FindByID(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, ErrAlreadyInState
}

func (s *Mongo) List(ctx context.Context, page, limit int) ([]models.User, int64, error) {
	skip := int64((page - 1) * limit)
	findOpts := options.Find().
		SetSkip(skip).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := s.users.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	users := make([]models.User, 0)
	for cursor.Next(ctx) {
		var u models.User
		if err := cursor.Decode(&u); err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, err
	}

	total, err := s.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// buildUpdate splits a Patch into $set/$unset, stamping updatedAt.
func buildUpdate(patch Patch) bson.M {
	set := bson.M{"updatedAt": time.Now().UTC()}
	unset := bson.M{}
	for k, v := range patch {
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func isDuplicateKey(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 || e.Code == 11001 {
				return true
			}
		}
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 11000 || ce.Code == 11001) {
		return true
	}

	return err != nil && mongo.IsDuplicateKeyError(err)
}
