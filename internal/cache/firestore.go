package cache

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firestoreEntry struct {
	Response  models.AIResponse `firestore:"response"`
	CreatedAt time.Time         `firestore:"createdAt"`
	ExpiresAt time.Time         `firestore:"expiresAt,omitempty"`
}

// FirestoreStore keeps cache entries in a Firestore collection so they
// survive restarts and are shared between instances. ExpiresAt is also
// suitable for a Firestore TTL policy.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	timeNow    func() time.Time
}

// NewFirestoreStore creates a store over the given collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection, timeNow: time.Now}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(strings.TrimPrefix(key, KeyPrefix))
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (*models.AIResponse, bool, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read cache entry")
	}
	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return nil, false, errors.Wrap(err, "failed to decode cache entry")
	}
	if !entry.ExpiresAt.IsZero() && !s.timeNow().Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	return &entry.Response, true, nil
}

func (s *FirestoreStore) Put(ctx context.Context, key string, resp *models.AIResponse, ttl time.Duration) error {
	now := s.timeNow()
	entry := firestoreEntry{Response: *resp, CreatedAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	if _, err := s.doc(key).Set(ctx, entry); err != nil {
		return errors.Wrap(err, "failed to write cache entry")
	}
	return nil
}
