package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-chat-service/internal/models"
)

// verifyBanned is the storefront's banned value of users.verify.
const verifyBanned = 2

// MongoDirectory reads the storefront users collection.
type MongoDirectory struct {
	users *mongo.Collection
}

// NewMongoDirectory constructs a MongoDirectory.
func NewMongoDirectory(users *mongo.Collection) *MongoDirectory {
	return &MongoDirectory{users: users}
}

func (d *MongoDirectory) Lookup(ctx context.Context, id string) (User, error) {
	var key interface{} = id
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		key = oid
	}

	var doc struct {
		Role   string `bson:"role"`
		Verify int    `bson:"verify"`
	}
	err := d.users.FindOne(ctx, bson.M{"_id": key}, options.FindOne().SetProjection(bson.M{"role": 1, "verify": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Role: models.Role(doc.Role), Banned: doc.Verify == verifyBanned}, nil
}

// SQLDirectory reads a users table with role and banned columns.
type SQLDirectory struct {
	db *sqlx.DB
}

// NewSQLDirectory constructs a SQLDirectory.
func NewSQLDirectory(db *sqlx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) Lookup(ctx context.Context, id string) (User, error) {
	var user User
	err := d.db.QueryRowxContext(ctx, `SELECT id, role, banned FROM support_users WHERE id=$1`, id).
		Scan(&user.ID, &user.Role, &user.Banned)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// StaticDirectory is an in-memory directory for development and tests.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStaticDirectory constructs a StaticDirectory seeded with users.
func NewStaticDirectory(users ...User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *StaticDirectory) Put(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *StaticDirectory) Lookup(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// ParseStaticUsers builds a StaticDirectory from "id:role" entries. The role
// may be omitted for customers.
func ParseStaticUsers(entries []string) (*StaticDirectory, error) {
	d := NewStaticDirectory()
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, role, _ := strings.Cut(entry, ":")
		user := User{ID: strings.TrimSpace(id), Role: models.Role(strings.TrimSpace(role))}
		switch user.Role {
		case "":
			user.Role = models.RoleCustomer
		case models.RoleCustomer, models.RoleAdmin, models.RoleStaff:
		default:
			return nil, fmt.Errorf("static user %q: unknown role %q", user.ID, user.Role)
		}
		if user.ID == "" {
			return nil, fmt.Errorf("static user %q: empty id", entry)
		}
		d.Put(user)
	}
	return d, nil
}
