package dialect

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/schema"
)

// Postgres 引擎，列类型使用 format_type 的规范写法，便于和读取到的表结构直接比较
type Postgres struct{}

func (p *Postgres) Name() string {
	return "postgres"
}

func (p *Postgres) Capabilities() Capabilities {
	return Capabilities{
		Savepoints:     true,
		Isolation:      true,
		AlterColumn:    true,
		IndexIfExists:  true,
		DistinctOnSort: true,
	}
}

func (p *Postgres) QuoteIdent(name string) string {
	return quoteWith(name, '"')
}

func (p *Postgres) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (p *Postgres) TableName(name string) string {
	return name
}

// Hash 依赖 pgcrypto 扩展
func (p *Postgres) Hash(literal string) string {
	return "encode(digest(" + literal + ", 'sha1'), 'hex')"
}

func (p *Postgres) ColumnType(f *schema.FieldConfig) (string, error) {
	switch f.Kind {
	case schema.KindString:
		if f.Specifier == "text" {
			return "text", nil
		}
		n := f.MaxLength
		if n <= 0 {
			n = 255
		}
		return fmt.Sprintf("character varying(%d)", n), nil
	case schema.KindNumber:
		if f.Precision != nil {
			return fmt.Sprintf("numeric(%d,%d)", f.Precision.Digits, f.Precision.Decimals), nil
		}
		return "double precision", nil
	case schema.KindInteger:
		return "bigint", nil
	case schema.KindBoolean:
		return "boolean", nil
	case schema.KindDate:
		return "timestamp(6) without time zone", nil
	case schema.KindObject:
		return "jsonb", nil
	case schema.KindRegExp:
		return "text", nil
	case schema.KindClass, schema.KindInvalid:
		return "", dberr.UnsupportedType(f.Name, f.Kind.String())
	}
	return "", dberr.UnsupportedType(f.Name, f.Kind.String())
}

func (p *Postgres) NormalizeType(typ string) string {
	return strings.ToLower(strings.TrimSpace(typ))
}

func (p *Postgres) IDType() string {
	return "character varying(36)"
}

func (p *Postgres) PathType() string {
	return "character(40)"
}

func (p *Postgres) IdxType() string {
	return "integer"
}

func (p *Postgres) TableSuffix() string {
	return ""
}

func (p *Postgres) ZeroLiteral(typ string) string {
	return zeroLiteral(typ)
}

func (p *Postgres) ModifyColumnSQL(table string, col Column) (string, error) {
	name := p.QuoteIdent(col.Name)
	nullability := "DROP NOT NULL"
	if col.NotNull {
		nullability = "SET NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s, ALTER COLUMN %s %s",
		p.QuoteIdent(table), name, col.Type, name, col.Type, name, nullability), nil
}

func (p *Postgres) DropIndexSQL(table, index string) string {
	return "DROP INDEX IF EXISTS " + p.QuoteIdent(index)
}

func (p *Postgres) TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + p.QuoteIdent(table) + " CASCADE"
}

func (p *Postgres) Regex(column, pattern string, insensitive bool) string {
	if insensitive {
		return column + " ~* " + pattern
	}
	return column + " ~ " + pattern
}

func (p *Postgres) Boundary() (string, string) {
	return `\y`, `\y`
}

func (p *Postgres) ILike(column, pattern string) string {
	return column + " ILIKE " + pattern
}

func (p *Postgres) LimitSQL(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

// BeginSQL 隔离级别只能在事务开始后设置
func (p *Postgres) BeginSQL(isolation string) []string {
	if isolation == "" {
		return []string{"BEGIN"}
	}
	return []string{"BEGIN", "SET TRANSACTION ISOLATION LEVEL " + isolation}
}

func (p *Postgres) Describe(ctx context.Context, exec Executor, table string) (*TableInfo, error) {
	info := &TableInfo{Name: table, Columns: map[string]ColumnInfo{}}
	name := p.QuoteString(table)

	res, err := exec.Execute(ctx, "SELECT a.attname AS name, format_type(a.atttypid, a.atttypmod) AS type, a.attnotnull AS notnull "+
		"FROM pg_attribute a JOIN pg_class c ON c.oid = a.attrelid JOIN pg_namespace n ON n.oid = c.relnamespace "+
		"WHERE c.relname = "+name+" AND n.nspname = current_schema() AND a.attnum > 0 AND NOT a.attisdropped "+
		"ORDER BY a.attnum")
	if err != nil {
		return nil, err
	}
	for _, r := range res.Records {
		col := asString(r["name"])
		info.Columns[col] = ColumnInfo{
			Name:    col,
			Type:    p.NormalizeType(asString(r["type"])),
			NotNull: asBool(r["notnull"]),
		}
	}
	if len(info.Columns) == 0 {
		return info, nil
	}
	info.Exists = true

	// 约束（主键、唯一约束）对应的索引不由索引定义管理
	res, err = exec.Execute(ctx, "SELECT i.relname AS name, ix.indisunique AS is_unique, a.attname AS col, "+
		"(ix.indoption[k.n - 1] & 1) = 1 AS is_desc "+
		"FROM pg_index ix "+
		"JOIN pg_class t ON t.oid = ix.indrelid "+
		"JOIN pg_class i ON i.oid = ix.indexrelid "+
		"JOIN pg_namespace ns ON ns.oid = t.relnamespace "+
		"CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, n) "+
		"JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum "+
		"WHERE t.relname = "+name+" AND ns.nspname = current_schema() "+
		"AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = ix.indexrelid) "+
		"ORDER BY i.relname, k.n")
	if err != nil {
		return nil, err
	}
	for _, r := range res.Records {
		idx := asString(r["name"])
		n := len(info.Indexes)
		if n == 0 || info.Indexes[n-1].Name != idx {
			info.Indexes = append(info.Indexes, IndexInfo{Name: idx, Unique: asBool(r["is_unique"])})
			n++
		}
		info.Indexes[n-1].Columns = append(info.Indexes[n-1].Columns, IndexColumn{
			Column: asString(r["col"]),
			Desc:   asBool(r["is_desc"]),
		})
	}
	return info, nil
}
