package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type redisEntityStore struct {
	client *redis.Client
}

func NewRedisEntityStore(client *redis.Client) EntityStore {
	return &redisEntityStore{client: client}
}

func (s *redisEntityStore) Get(ctx context.Context, collection, id string, dest any) (bool, error) {
	raw, err := s.client.HGet(ctx, collection, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := decodeDocument(collection, id, raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisEntityStore) Set(ctx context.Context, collection, id string, doc any) error {
	raw, err := encodeDocument(collection, id, doc)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, collection, id, raw).Err()
}

// SetMany sends the batch as one MULTI/EXEC transaction.
func (s *redisEntityStore) SetMany(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	raws, err := encodeBatch(docs)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, d := range docs {
			pipe.HSet(ctx, d.Collection, d.ID, raws[i])
		}
		return nil
	})
	return err
}

func (s *redisEntityStore) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.client.HDel(ctx, collection, ids...).Err()
}

func (s *redisEntityStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	return s.client.HExists(ctx, collection, id).Result()
}

func (s *redisEntityStore) GetAll(ctx context.Context, collection string) (map[string][]byte, error) {
	fields, err := s.client.HGetAll(ctx, collection).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(fields))
	for id, raw := range fields {
		out[id] = []byte(raw)
	}
	return out, nil
}
