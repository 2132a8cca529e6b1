package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hatlonely/docrdb/conn"
	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/log"
	"github.com/hatlonely/docrdb/log/logger"
	"github.com/hatlonely/docrdb/schema"
	"github.com/hatlonely/docrdb/uid"
)

const (
	idField         = "id"
	pathField       = "__path"
	parentPathField = "__parent_path"
)

type Options struct {
	// ChunkSize 查询子表时每条语句携带的父路径数量上限，0 表示不拆分
	ChunkSize int `cfg:"chunkSize" def:"0" validate:"gte=0"`

	UUID uid.UUIDOptions `cfg:"uuid"`
}

// Store 文档存储服务，写操作在 Required 事务中执行，读操作复用上下文中的连接
type Store struct {
	d         *dialect.Dialect
	conns     *conn.Manager
	ids       uid.Generator
	chunkSize int
	logger    logger.Logger
}

func New(d *dialect.Dialect, conns *conn.Manager) *Store {
	return &Store{
		d:      d,
		conns:  conns,
		ids:    uid.NewUUIDGenerator(),
		logger: log.Default().WithGroup("store"),
	}
}

func NewWithOptions(d *dialect.Dialect, conns *conn.Manager, options *Options) (*Store, error) {
	if d == nil || conns == nil {
		return nil, errors.New("dialect and connection manager are required")
	}
	s := New(d, conns)
	if options == nil {
		return s, nil
	}
	if options.ChunkSize < 0 {
		return nil, errors.Errorf("invalid chunk size %d", options.ChunkSize)
	}
	ids, err := uid.NewUUIDGeneratorWithOptions(&options.UUID)
	if err != nil {
		return nil, errors.WithMessage(err, "uid.NewUUIDGeneratorWithOptions failed")
	}
	s.ids = ids
	s.chunkSize = options.ChunkSize
	return s, nil
}

func (s *Store) SetLogger(l logger.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *Store) SetGenerator(g uid.Generator) {
	if g != nil {
		s.ids = g
	}
}

func (s *Store) Dialect() *dialect.Dialect {
	return s.d
}

// Insert 插入文档，没有 id 的文档会生成 id，按输入顺序返回所有 id
func (s *Store) Insert(ctx context.Context, class string, docs ...schema.Document) ([]string, error) {
	ops := make([]Operation, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, InsertOp(doc))
	}
	resp, err := s.Bulk(ctx, class, ops)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for i, doc := range docs {
		if id, ok := resp.InsertedIDs[i]; ok {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, cast.ToString(doc[idField]))
	}
	return ids, nil
}

// Upsert 按 id 整体替换文档，文档不存在时插入，返回文档 id
func (s *Store) Upsert(ctx context.Context, class string, doc schema.Document) (string, error) {
	resp, err := s.Bulk(ctx, class, []Operation{UpsertOp(doc)})
	if err != nil {
		return "", err
	}
	if id, ok := resp.InsertedIDs[0]; ok {
		return id, nil
	}
	return cast.ToString(doc[idField]), nil
}

// Update 按 id 整体替换文档，文档不存在时返回 NotFoundError
func (s *Store) Update(ctx context.Context, class string, doc schema.Document) error {
	id := cast.ToString(doc[idField])
	if id == "" {
		return errors.Errorf("class %s: update requires an id", class)
	}
	resp, err := s.Bulk(ctx, class, []Operation{UpdateOp(doc)})
	if err != nil {
		return err
	}
	if resp.Updated == 0 {
		return dberr.NotFound(class, id)
	}
	return nil
}

// Delete 按 id 删除文档及其所有子记录，没有删除任何记录时返回 NotFoundError
func (s *Store) Delete(ctx context.Context, class string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ops := make([]Operation, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, DeleteOp(id))
	}
	resp, err := s.Bulk(ctx, class, ops)
	if err != nil {
		return 0, err
	}
	if resp.Deleted == 0 {
		return 0, dberr.NotFound(class, ids...)
	}
	return int64(resp.Deleted), nil
}

// DeleteMany 删除满足条件的文档，返回删除数量
func (s *Store) DeleteMany(ctx context.Context, class string, filter any) (int64, error) {
	var deleted int64
	err := s.conns.RunWithTransaction(ctx, conn.Required, func(ctx context.Context) error {
		sql, err := s.d.QuerySQL(class, &dialect.Query{Filter: filter, Select: []string{idField}})
		if err != nil {
			return err
		}
		res, err := s.conns.Execute(ctx, sql)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(res.Records))
		for _, row := range res.Records {
			ids = append(ids, text(row[idField]))
		}
		deleted, err = s.deleteIDs(ctx, class, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Store) deleteIDs(ctx context.Context, class string, ids []string) (int64, error) {
	root, err := s.d.RootTable(class)
	if err != nil {
		return 0, err
	}
	sql, ok := s.d.DeleteSQL(&dialect.DeleteWrapper{Table: root, IDs: ids})
	if !ok {
		return 0, nil
	}
	res, err := s.conns.Execute(ctx, sql)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Get 按 id 读取文档，fields 为空时读取全部字段
func (s *Store) Get(ctx context.Context, class, id string, fields ...string) (schema.Document, error) {
	docs, err := s.Find(ctx, class, &dialect.Query{Filter: bson.M{idField: id}, Select: fields, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, dberr.NotFound(class, id)
	}
	return docs[0], nil
}

// Find 查询根记录后逐层读取子记录
func (s *Store) Find(ctx context.Context, class string, query *dialect.Query) ([]schema.Document, error) {
	if query == nil {
		query = &dialect.Query{}
	}
	root, err := s.d.RootTable(class)
	if err != nil {
		return nil, err
	}
	sql, err := s.d.QuerySQL(class, query)
	if err != nil {
		return nil, err
	}
	proj := dialect.NewProjection(query.Select)

	var docs []schema.Document
	err = s.conns.RunWithActive(ctx, func(ctx context.Context) error {
		res, err := s.conns.Execute(ctx, sql)
		if err != nil {
			return err
		}

		parents := make(map[string]schema.Document, len(res.Records))
		docs = make([]schema.Document, 0, len(res.Records))
		for _, row := range res.Records {
			doc, err := s.d.DecodeRow(root, proj, row)
			if err != nil {
				return err
			}
			doc[idField] = text(row[idField])
			parents[text(row[pathField])] = doc
			docs = append(docs, doc)
		}
		return s.fetchDependents(ctx, root, proj, parents)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// FindOne 返回第一个满足条件的文档，没有时返回 NotFoundError
func (s *Store) FindOne(ctx context.Context, class string, query *dialect.Query) (schema.Document, error) {
	q := dialect.Query{}
	if query != nil {
		q = *query
	}
	q.Limit = 1
	docs, err := s.Find(ctx, class, &q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, dberr.NotFound(class)
	}
	return docs[0], nil
}

// Count 满足条件的文档数量
func (s *Store) Count(ctx context.Context, class string, filter any) (int64, error) {
	sql, err := s.d.CountSQL(class, filter)
	if err != nil {
		return 0, err
	}
	var count int64
	err = s.conns.RunWithActive(ctx, func(ctx context.Context) error {
		res, err := s.conns.Execute(ctx, sql)
		if err != nil {
			return err
		}
		if len(res.Records) > 0 {
			count, err = integer(res.Records[0]["count"])
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Bucket 分组计数结果
type Bucket struct {
	Key      any
	DocCount int64
}

// CountBy 按字段分组计数，数组字段按元素分组，结果按数量降序，limit 为 0 时不限制
func (s *Store) CountBy(ctx context.Context, class string, filter any, field string, limit int) ([]Bucket, error) {
	sql, err := s.d.CountBySQL(class, filter, field, limit)
	if err != nil {
		return nil, err
	}
	var buckets []Bucket
	err = s.conns.RunWithActive(ctx, func(ctx context.Context) error {
		res, err := s.conns.Execute(ctx, sql)
		if err != nil {
			return err
		}
		buckets = make([]Bucket, 0, len(res.Records))
		for _, row := range res.Records {
			n, err := integer(row["count"])
			if err != nil {
				return err
			}
			key := row["value"]
			if b, ok := key.([]byte); ok {
				key = string(b)
			}
			buckets = append(buckets, Bucket{Key: key, DocCount: n})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

// text 驱动返回的文本列，mysql 返回 []byte
func text(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return cast.ToString(v)
}

func integer(v any) (int64, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot read %v as integer", v)
	}
	return n, nil
}
