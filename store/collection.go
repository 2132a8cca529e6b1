package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/schema"
)

// Collection 以结构体读写某个类，结构体通过 rdb tag 注册
type Collection[T any] struct {
	store *Store
	class string
}

// NewCollection 注册结构体 T 及其嵌套类型，返回对应的集合
func NewCollection[T any](s *Store, opts ...schema.StructOption) (*Collection[T], error) {
	var zero T
	class, err := s.d.Registry().RegisterStruct(&zero, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "schema.RegisterStruct failed")
	}
	if err := s.d.Registry().Validate(); err != nil {
		return nil, err
	}
	return &Collection[T]{store: s, class: class}, nil
}

func (c *Collection[T]) Class() string {
	return c.class
}

func (c *Collection[T]) Store() *Store {
	return c.store
}

func (c *Collection[T]) Insert(ctx context.Context, values ...*T) ([]string, error) {
	docs := make([]schema.Document, 0, len(values))
	for _, v := range values {
		doc, err := schema.ToDocument(v)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return c.store.Insert(ctx, c.class, docs...)
}

func (c *Collection[T]) Upsert(ctx context.Context, v *T) (string, error) {
	doc, err := schema.ToDocument(v)
	if err != nil {
		return "", err
	}
	return c.store.Upsert(ctx, c.class, doc)
}

func (c *Collection[T]) Update(ctx context.Context, v *T) error {
	doc, err := schema.ToDocument(v)
	if err != nil {
		return err
	}
	return c.store.Update(ctx, c.class, doc)
}

func (c *Collection[T]) Delete(ctx context.Context, ids ...string) (int64, error) {
	return c.store.Delete(ctx, c.class, ids...)
}

func (c *Collection[T]) Get(ctx context.Context, id string, fields ...string) (*T, error) {
	doc, err := c.store.Get(ctx, c.class, id, fields...)
	if err != nil {
		return nil, err
	}
	return decode[T](doc)
}

func (c *Collection[T]) Find(ctx context.Context, query *dialect.Query) ([]*T, error) {
	docs, err := c.store.Find(ctx, c.class, query)
	if err != nil {
		return nil, err
	}
	values := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := decode[T](doc)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (c *Collection[T]) FindOne(ctx context.Context, query *dialect.Query) (*T, error) {
	doc, err := c.store.FindOne(ctx, c.class, query)
	if err != nil {
		return nil, err
	}
	return decode[T](doc)
}

func (c *Collection[T]) Count(ctx context.Context, filter any) (int64, error) {
	return c.store.Count(ctx, c.class, filter)
}

func (c *Collection[T]) CountBy(ctx context.Context, filter any, field string, limit int) ([]Bucket, error) {
	return c.store.CountBy(ctx, c.class, filter, field, limit)
}

func decode[T any](doc schema.Document) (*T, error) {
	v := new(T)
	if err := schema.FromDocument(doc, v); err != nil {
		return nil, errors.WithMessage(err, "schema.FromDocument failed")
	}
	return v, nil
}
