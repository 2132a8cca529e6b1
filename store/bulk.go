package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/hatlonely/docrdb/conn"
	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/schema"
)

type OpKind int

const (
	OpInsert OpKind = iota
	OpUpsert
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Operation 批量操作中的一项，ID 为空时取 Doc 中的 id
type Operation struct {
	Kind OpKind
	ID   string
	Doc  schema.Document
}

func InsertOp(doc schema.Document) Operation {
	return Operation{Kind: OpInsert, Doc: doc}
}

func UpsertOp(doc schema.Document) Operation {
	return Operation{Kind: OpUpsert, Doc: doc}
}

func UpdateOp(doc schema.Document) Operation {
	return Operation{Kind: OpUpdate, Doc: doc}
}

func DeleteOp(id string) Operation {
	return Operation{Kind: OpDelete, ID: id}
}

func (op Operation) id() string {
	if op.ID != "" {
		return op.ID
	}
	if op.Doc == nil {
		return ""
	}
	return cast.ToString(op.Doc[idField])
}

// BulkResponse 各类操作影响的根记录数，InsertedIDs 为操作下标到生成的 id
type BulkResponse struct {
	Inserted    int
	Upserted    int
	Updated     int
	Deleted     int
	InsertedIDs map[int]string
}

// Bulk 在一个事务中执行批量操作：
//  1. 删除 OpDelete 指定的记录，子表级联删除
//  2. 删除 upsert/update 指定的已有记录，update 的 id 不存在时跳过
//  3. 按表的深度逐层插入，同一层的表并发执行
func (s *Store) Bulk(ctx context.Context, class string, ops []Operation) (*BulkResponse, error) {
	resp := &BulkResponse{InsertedIDs: map[int]string{}}
	if len(ops) == 0 {
		return resp, nil
	}

	var deletes, replaces []string
	for i, op := range ops {
		switch op.Kind {
		case OpDelete:
			id := op.id()
			if id == "" {
				return nil, errors.Errorf("class %s: operation %d: delete requires an id", class, i)
			}
			deletes = append(deletes, id)
		case OpUpdate:
			if op.id() == "" {
				return nil, errors.Errorf("class %s: operation %d: update requires an id", class, i)
			}
			fallthrough
		case OpUpsert:
			if op.Doc == nil {
				return nil, errors.Errorf("class %s: operation %d: %s requires a document", class, i, op.Kind)
			}
			if id := op.id(); id != "" {
				replaces = append(replaces, id)
			}
		case OpInsert:
			if op.Doc == nil {
				return nil, errors.Errorf("class %s: operation %d: insert requires a document", class, i)
			}
		default:
			return nil, errors.Errorf("class %s: operation %d: unknown kind %d", class, i, op.Kind)
		}
	}

	err := s.conns.RunWithTransaction(ctx, conn.Required, func(ctx context.Context) error {
		if len(deletes) > 0 {
			n, err := s.deleteIDs(ctx, class, deletes)
			if err != nil {
				return err
			}
			resp.Deleted = int(n)
		}

		existing, err := s.existingIDs(ctx, class, replaces)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			ids := make([]string, 0, len(existing))
			for id := range existing {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			if _, err := s.deleteIDs(ctx, class, ids); err != nil {
				return err
			}
		}

		var docs []schema.Document
		for i, op := range ops {
			if op.Kind == OpDelete {
				continue
			}
			id := op.id()
			if op.Kind == OpUpdate && !existing[id] {
				s.logger.DebugContext(ctx, "skip update of missing document", "class", class, "id", id)
				continue
			}

			doc := make(schema.Document, len(op.Doc)+1)
			for k, v := range op.Doc {
				doc[k] = v
			}
			if id == "" {
				id = s.ids.Generate()
				resp.InsertedIDs[i] = id
			}
			doc[idField] = id
			docs = append(docs, doc)

			switch op.Kind {
			case OpInsert:
				resp.Inserted++
			case OpUpsert:
				resp.Upserted++
			case OpUpdate:
				resp.Updated++
			}
		}
		return s.insertByLevel(ctx, class, docs)
	})
	if err != nil {
		return nil, dberr.Translate(class, err)
	}
	return resp, nil
}

func (s *Store) existingIDs(ctx context.Context, class string, ids []string) (map[string]bool, error) {
	existing := map[string]bool{}
	if len(ids) == 0 {
		return existing, nil
	}
	sql, err := s.d.SelectIDsSQL(class, ids)
	if err != nil {
		return nil, err
	}
	res, err := s.conns.Execute(ctx, sql)
	if err != nil {
		return nil, err
	}
	for _, row := range res.Records {
		existing[text(row[idField])] = true
	}
	return existing, nil
}

// insertByLevel 按表的深度升序插入，父表的行总是先于子表写入
func (s *Store) insertByLevel(ctx context.Context, class string, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	wrappers, err := s.d.InsertWrappers(class, docs)
	if err != nil {
		return err
	}

	levels := map[int][]*dialect.InsertWrapper{}
	var depths []int
	for _, w := range wrappers {
		depth := w.Table.Depth()
		if _, ok := levels[depth]; !ok {
			depths = append(depths, depth)
		}
		levels[depth] = append(levels[depth], w)
	}
	sort.Ints(depths)

	for _, depth := range depths {
		var g errgroup.Group
		for _, w := range levels[depth] {
			sql, ok, err := s.d.InsertSQL(w)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			g.Go(func() error {
				_, err := s.conns.Execute(ctx, sql)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return errors.WithMessagef(err, "class %s: insert level %d", class, depth)
		}
	}
	return nil
}
