package dialect

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/schema"
)

// SQLite 引擎，sha1 和 regexp 函数由 conn 包注册的驱动提供
type SQLite struct{}

func (s *SQLite) Name() string {
	return "sqlite"
}

func (s *SQLite) Capabilities() Capabilities {
	return Capabilities{
		Savepoints:    true,
		IndexIfExists: true,
	}
}

func (s *SQLite) QuoteIdent(name string) string {
	return quoteWith(name, '"')
}

func (s *SQLite) QuoteString(str string) string {
	return "'" + strings.ReplaceAll(str, "'", "''") + "'"
}

func (s *SQLite) TableName(name string) string {
	return name
}

func (s *SQLite) Hash(literal string) string {
	return "sha1(" + literal + ")"
}

func (s *SQLite) ColumnType(f *schema.FieldConfig) (string, error) {
	switch f.Kind {
	case schema.KindString, schema.KindRegExp:
		return "TEXT", nil
	case schema.KindNumber:
		if f.Precision != nil {
			return fmt.Sprintf("NUMERIC(%d,%d)", f.Precision.Digits, f.Precision.Decimals), nil
		}
		return "REAL", nil
	case schema.KindInteger:
		return "INTEGER", nil
	case schema.KindBoolean:
		return "BOOLEAN", nil
	case schema.KindDate:
		return "DATETIME", nil
	case schema.KindObject:
		return "JSON", nil
	case schema.KindClass, schema.KindInvalid:
		return "", dberr.UnsupportedType(f.Name, f.Kind.String())
	}
	return "", dberr.UnsupportedType(f.Name, f.Kind.String())
}

func (s *SQLite) NormalizeType(typ string) string {
	return strings.ToLower(strings.TrimSpace(typ))
}

func (s *SQLite) IDType() string {
	return "VARCHAR(36)"
}

func (s *SQLite) PathType() string {
	return "CHAR(40)"
}

func (s *SQLite) IdxType() string {
	return "INTEGER"
}

func (s *SQLite) TableSuffix() string {
	return ""
}

func (s *SQLite) ZeroLiteral(typ string) string {
	return zeroLiteral(typ)
}

func (s *SQLite) ModifyColumnSQL(table string, col Column) (string, error) {
	return "", dberr.Unsupported(s.Name(), "modify column")
}

func (s *SQLite) DropIndexSQL(table, index string) string {
	return "DROP INDEX IF EXISTS " + s.QuoteIdent(index)
}

func (s *SQLite) TruncateSQL(table string) string {
	return "DELETE FROM " + s.QuoteIdent(table)
}

// Regex X REGEXP Y 会调用 regexp(Y, X)
func (s *SQLite) Regex(column, pattern string, insensitive bool) string {
	if insensitive {
		return fmt.Sprintf("%s REGEXP ('(?i)' || %s)", column, pattern)
	}
	return fmt.Sprintf("%s REGEXP %s", column, pattern)
}

func (s *SQLite) Boundary() (string, string) {
	return `\b`, `\b`
}

// ILike SQLite 的 LIKE 对 ASCII 字符本身不区分大小写
func (s *SQLite) ILike(column, pattern string) string {
	return column + " LIKE " + pattern
}

func (s *SQLite) LimitSQL(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func (s *SQLite) BeginSQL(isolation string) []string {
	return []string{"BEGIN"}
}

func (s *SQLite) Describe(ctx context.Context, exec Executor, table string) (*TableInfo, error) {
	info := &TableInfo{Name: table, Columns: map[string]ColumnInfo{}}

	res, err := exec.Execute(ctx, fmt.Sprintf("PRAGMA table_info(%s)", s.QuoteString(table)))
	if err != nil {
		return nil, err
	}
	for _, r := range res.Records {
		name := asString(r["name"])
		info.Columns[name] = ColumnInfo{
			Name:    name,
			Type:    s.NormalizeType(asString(r["type"])),
			NotNull: asInt(r["notnull"]) != 0,
		}
	}
	if len(info.Columns) == 0 {
		return info, nil
	}
	info.Exists = true

	res, err = exec.Execute(ctx, fmt.Sprintf("PRAGMA index_list(%s)", s.QuoteString(table)))
	if err != nil {
		return nil, err
	}
	for _, r := range res.Records {
		// c: CREATE INDEX 创建，u: UNIQUE 约束，pk: 主键
		if asString(r["origin"]) != "c" {
			continue
		}
		idx := IndexInfo{Name: asString(r["name"]), Unique: asInt(r["unique"]) != 0}

		cols, err := exec.Execute(ctx, fmt.Sprintf("PRAGMA index_xinfo(%s)", s.QuoteString(idx.Name)))
		if err != nil {
			return nil, err
		}
		for _, c := range cols.Records {
			if asInt(c["key"]) == 0 {
				continue
			}
			idx.Columns = append(idx.Columns, IndexColumn{
				Column: asString(c["name"]),
				Desc:   asInt(c["desc"]) != 0,
			})
		}
		info.Indexes = append(info.Indexes, idx)
	}
	return info, nil
}
