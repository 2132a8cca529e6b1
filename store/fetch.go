package store

import (
	"context"
	"sort"

	"github.com/hatlonely/docrdb/dialect"
	"github.com/hatlonely/docrdb/schema"
)

// level 一层待填充的父文档，按 __path 索引
type level struct {
	table   *dialect.Table
	proj    dialect.Projection
	parents map[string]schema.Document
}

// fetchDependents 按层读取子表并挂到父文档上
// 每层每张子表一条 SELECT ... WHERE __parent_path IN (...)，未被投影选中的子表不会读取
func (s *Store) fetchDependents(ctx context.Context, root *dialect.Table, proj dialect.Projection, parents map[string]schema.Document) error {
	queue := []level{{table: root, proj: proj, parents: parents}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.parents) == 0 {
			continue
		}

		paths := make([]string, 0, len(cur.parents))
		for path := range cur.parents {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, child := range cur.table.Children {
			sub, ok := cur.proj.Includes(child.Field.Name)
			if !ok {
				continue
			}
			next, err := s.fetchChild(ctx, child, sub, paths, cur.parents)
			if err != nil {
				return err
			}
			if !child.IsPrimitive() {
				queue = append(queue, level{table: child, proj: sub, parents: next})
			}
		}
	}
	return nil
}

func (s *Store) fetchChild(ctx context.Context, child *dialect.Table, proj dialect.Projection, paths []string, parents map[string]schema.Document) (map[string]schema.Document, error) {
	name := child.Field.Name
	next := map[string]schema.Document{}
	for _, chunk := range chunks(paths, s.chunkSize) {
		res, err := s.conns.Execute(ctx, s.d.DependentsSQL(child, proj, chunk))
		if err != nil {
			return nil, err
		}

		for _, row := range res.Records {
			parent, ok := parents[text(row[parentPathField])]
			if !ok {
				continue
			}

			if child.IsPrimitive() {
				value, err := s.d.DecodeValue(child.Field, row[name])
				if err != nil {
					return nil, err
				}
				items, _ := parent[name].([]any)
				parent[name] = append(items, value)
				continue
			}

			doc, err := s.d.DecodeRow(child, proj, row)
			if err != nil {
				return nil, err
			}
			next[text(row[pathField])] = doc
			if child.IsArray() {
				items, _ := parent[name].([]any)
				parent[name] = append(items, doc)
			} else {
				parent[name] = doc
			}
		}
	}
	return next, nil
}

func chunks(paths []string, size int) [][]string {
	if size <= 0 || len(paths) <= size {
		return [][]string{paths}
	}
	var out [][]string
	for size < len(paths) {
		out = append(out, paths[:size])
		paths = paths[size:]
	}
	return append(out, paths)
}
