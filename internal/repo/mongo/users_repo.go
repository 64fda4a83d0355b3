package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"
	usernameIndex   = "username_unique"
	emailIndex      = "email_unique"
)

type userDoc struct {
	ID         primitive.ObjectID   `bson:"_id"`
	Username   string               `bson:"username"`
	Email      string               `bson:"email"`
	Password   string               `bson:"password"`
	Bio        string               `bson:"bio,omitempty"`
	ProfilePic string               `bson:"profilePic,omitempty"`
	Followers  []primitive.ObjectID `bson:"followers"`
	Following  []primitive.ObjectID `bson:"following"`
	CreatedAt  time.Time            `bson:"createdAt"`
	UpdatedAt  time.Time            `bson:"updatedAt"`
}

func (d userDoc) toDomain() user.User {
	return user.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.Password,
		Bio:          d.Bio,
		ProfilePic:   d.ProfilePic,
		Followers:    hexIDs(d.Followers),
		Following:    hexIDs(d.Following),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// UsersRepo stores one document per user with both follow lists embedded.
// The two sides of an edge are separate single-document writes, so a crash
// between them can leave the relation one-sided.
type UsersRepo struct {
	coll *mongo.Collection
	prom *observability.Prom
	now  func() time.Time
}

func NewUsersRepo(db *mongo.Database, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		coll: db.Collection(usersCollection),
		prom: prom,
		now:  time.Now,
	}
}

// Connect dials uri and verifies the deployment answers a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the unique indexes that back username and email uniqueness.
func (r *UsersRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName(usernameIndex)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName(emailIndex)},
	})
	return err
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *UsersRepo) Create(ctx context.Context, nu user.NewUser) (user.User, error) {
	now := r.now().UTC().Truncate(time.Millisecond)
	doc := userDoc{
		ID:        primitive.NewObjectID(),
		Username:  nu.Username,
		Email:     nu.Email,
		Password:  nu.PasswordHash,
		Followers: []primitive.ObjectID{},
		Following: []primitive.ObjectID{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.observe("users.create", func() error {
		_, err := r.coll.InsertOne(ctx, doc)
		return mapWriteErr(err)
	})
	if err != nil {
		return user.User{}, err
	}
	return doc.toDomain(), nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	oid, ok := parseID(id)
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.findOne(ctx, "users.get_by_id", bson.M{"_id": oid})
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.findOne(ctx, "users.get_by_email", bson.M{"email": email})
}

func (r *UsersRepo) findOne(ctx context.Context, op string, filter bson.M) (u user.User, err error) {
	err = r.observe(op, func() error {
		var doc userDoc
		if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
			return mapReadErr(err)
		}
		u = doc.toDomain()
		return nil
	})
	return
}

// UpdateProfile sets only the non-empty fields and returns the new document.
func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, req user.UpdateProfileRequest) (u user.User, err error) {
	oid, ok := parseID(id)
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	set := bson.M{"updatedAt": r.now().UTC().Truncate(time.Millisecond)}
	if req.Username != "" {
		set["username"] = req.Username
	}
	if req.Bio != "" {
		set["bio"] = req.Bio
	}
	if req.ProfilePic != "" {
		set["profilePic"] = req.ProfilePic
	}

	err = r.observe("users.update_profile", func() error {
		var doc userDoc
		err := r.coll.FindOneAndUpdate(ctx,
			bson.M{"_id": oid},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return user.ErrNotFound
			}
			return mapWriteErr(err)
		}
		u = doc.toDomain()
		return nil
	})
	return
}

// Follow adds the caller to the target's followers, then the target to the
// caller's following. $addToSet keeps both lists free of duplicates.
func (r *UsersRepo) Follow(ctx context.Context, followerID, targetID string) error {
	return r.observe("users.follow", func() error {
		return r.edge(ctx, "$addToSet", followerID, targetID)
	})
}

func (r *UsersRepo) Unfollow(ctx context.Context, followerID, targetID string) error {
	return r.observe("users.unfollow", func() error {
		return r.edge(ctx, "$pull", followerID, targetID)
	})
}

func (r *UsersRepo) edge(ctx context.Context, op, followerID, targetID string) error {
	follower, ok := parseID(followerID)
	if !ok {
		return user.ErrNotFound
	}
	target, ok := parseID(targetID)
	if !ok {
		return user.ErrNotFound
	}

	now := r.now().UTC().Truncate(time.Millisecond)

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": target},
		bson.M{op: bson.M{"followers": follower}, "$set": bson.M{"updatedAt": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}

	res, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": follower},
		bson.M{op: bson.M{"following": target}, "$set": bson.M{"updatedAt": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

// Summaries resolves ids in the given order; ids without a document are skipped.
func (r *UsersRepo) Summaries(ctx context.Context, ids []string) ([]user.Summary, error) {
	out := make([]user.Summary, 0, len(ids))

	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, ok := parseID(id); ok {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return out, nil
	}

	err := r.observe("users.summaries", func() error {
		cur, err := r.coll.Find(ctx,
			bson.M{"_id": bson.M{"$in": oids}},
			options.Find().SetProjection(bson.M{"username": 1, "profilePic": 1}),
		)
		if err != nil {
			return err
		}

		var docs []userDoc
		if err := cur.All(ctx, &docs); err != nil {
			return err
		}

		byID := make(map[primitive.ObjectID]userDoc, len(docs))
		for _, d := range docs {
			byID[d.ID] = d
		}
		for _, oid := range oids {
			if d, ok := byID[oid]; ok {
				out = append(out, user.Summary{ID: d.ID.Hex(), Username: d.Username, ProfilePic: d.ProfilePic})
			}
		}
		return nil
	})

	return out, err
}

// SearchByUsername matches keyword literally, case-insensitively, anywhere in the username.
func (r *UsersRepo) SearchByUsername(ctx context.Context, keyword string) ([]user.SearchResult, error) {
	out := make([]user.SearchResult, 0)

	err := r.observe("users.search", func() error {
		cur, err := r.coll.Find(ctx,
			bson.M{"username": primitive.Regex{Pattern: regexp.QuoteMeta(keyword), Options: "i"}},
			options.Find().
				SetProjection(bson.M{"_id": 0, "username": 1, "profilePic": 1}).
				SetSort(bson.D{{Key: "username", Value: 1}}),
		)
		if err != nil {
			return err
		}
		defer func() { _ = cur.Close(ctx) }()

		for cur.Next(ctx) {
			var s struct {
				Username   string `bson:"username"`
				ProfilePic string `bson:"profilePic"`
			}
			if err := cur.Decode(&s); err != nil {
				return err
			}
			out = append(out, user.SearchResult{Username: s.Username, ProfilePic: s.ProfilePic})
		}
		return cur.Err()
	})

	return out, err
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

func hexIDs(in []primitive.ObjectID) []string {
	out := make([]string, 0, len(in))
	for _, oid := range in {
		out = append(out, oid.Hex())
	}
	return out
}

func mapReadErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return user.ErrNotFound
	}
	return err
}

// mapWriteErr tells the two unique indexes apart by the index the server
// names; the message also echoes the duplicate value, so only the index
// clause is matched.
func mapWriteErr(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "index: "+emailIndex):
		return user.ErrEmailTaken
	case strings.Contains(msg, "index: "+usernameIndex):
		return user.ErrUsernameTaken
	}
	return err
}

// parseID accepts only the lower-case hex form that documents are returned
// with, so an ID has exactly one spelling.
func parseID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil || oid.Hex() != id {
		return primitive.NilObjectID, false
	}
	return oid, true
}
