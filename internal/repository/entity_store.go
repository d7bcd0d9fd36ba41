package repository

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
)

// Cache collections. Each collection is one hash; the field is the entity id.
const (
	CollectionUsers     = "users"
	CollectionLocations = "locations"
	CollectionLogs      = "logs"
	CollectionConfig    = "config"
)

// EntityStore is the fast read/write path: one hash map per collection over
// the shared cache. Documents are serialized on write and deserialized on
// read; the store never interprets them. Absence means "not cached".
type EntityStore interface {
	// Get decodes the document into dest and reports whether it was present.
	Get(ctx context.Context, collection, id string, dest any) (bool, error)
	Set(ctx context.Context, collection, id string, doc any) error
	// SetMany writes every document or none of them.
	SetMany(ctx context.Context, docs ...Document) error
	Delete(ctx context.Context, collection string, ids ...string) error
	Exists(ctx context.Context, collection, id string) (bool, error)
	// GetAll returns every raw (id, document) pair of collection.
	GetAll(ctx context.Context, collection string) (map[string][]byte, error)
}

// Document is one entry of a SetMany batch.
type Document struct {
	Collection string
	ID         string
	Doc        any
}

var codec = sonic.ConfigStd

// encodeBatch encodes every document up front so a bad one aborts the
// whole batch before anything is written.
func encodeBatch(docs []Document) ([][]byte, error) {
	out := make([][]byte, len(docs))
	for i, d := range docs {
		raw, err := encodeDocument(d.Collection, d.ID, d.Doc)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func encodeDocument(collection, id string, doc any) ([]byte, error) {
	b, err := codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return b, nil
}

func decodeDocument(collection, id string, raw []byte, dest any) error {
	if err := codec.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

// DecodeDocument decodes one raw document returned by GetAll.
func DecodeDocument(raw []byte, dest any) error {
	return codec.Unmarshal(raw, dest)
}
