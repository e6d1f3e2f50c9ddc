package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

// Document pairs a decoded entity with its id and timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed helpers over one Firestore collection. T must be decodable with
// DocumentSnapshot.DataTo.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed helper to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the document reference for id, for use inside transactions.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return Decode[T](snap)
}

// Set upserts value under id.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Query runs a collection query and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Count returns the number of documents matching the query using an aggregation.
func (c *Collection[T]) Count(ctx context.Context, build QueryBuilder) (int, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	result, err := query.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, WrapError(c.op("count"), err)
	}
	raw, ok := result["all"]
	if !ok {
		return 0, WrapError(c.op("count"), errors.New("firestore: count alias missing"))
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, WrapError(c.op("count"), fmt.Errorf("firestore: unexpected count type %T", raw))
	}
	return int(value.GetIntegerValue()), nil
}

// Decode hydrates a snapshot into a typed document.
func Decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: target, UpdateTime: snap.UpdateTime}, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	if c == nil || c.name == "" {
		return "firestore." + action
	}
	return c.name + "." + action
}
