package dialect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/schema"
)

// MySQL 引擎，Legacy 对应 5.0.3 之前的版本：VARCHAR 最长 255，不支持 JSON、微秒时间和 SAVEPOINT
type MySQL struct {
	Legacy bool
}

func (m *MySQL) Name() string {
	return "mysql"
}

func (m *MySQL) Capabilities() Capabilities {
	return Capabilities{
		Savepoints:  !m.Legacy,
		Isolation:   true,
		AlterColumn: true,
	}
}

func (m *MySQL) QuoteIdent(name string) string {
	return quoteWith(name, '`')
}

// QuoteString 默认 sql_mode 下反斜杠是转义字符
func (m *MySQL) QuoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// TableName 表名统一小写，避免 lower_case_table_names 在不同平台上的差异
func (m *MySQL) TableName(name string) string {
	return strings.ToLower(name)
}

func (m *MySQL) Hash(literal string) string {
	return "SHA1(" + literal + ")"
}

func (m *MySQL) ColumnType(f *schema.FieldConfig) (string, error) {
	switch f.Kind {
	case schema.KindString:
		if f.Specifier == "text" {
			return "TEXT", nil
		}
		n := f.MaxLength
		if n <= 0 {
			n = 255
		}
		if m.Legacy && n > 255 {
			return "TEXT", nil
		}
		return fmt.Sprintf("VARCHAR(%d)", n), nil
	case schema.KindNumber:
		if f.Precision != nil {
			return fmt.Sprintf("DECIMAL(%d,%d)", f.Precision.Digits, f.Precision.Decimals), nil
		}
		return "DOUBLE", nil
	case schema.KindInteger:
		return "BIGINT", nil
	case schema.KindBoolean:
		return "TINYINT(1)", nil
	case schema.KindDate:
		if m.Legacy {
			return "DATETIME", nil
		}
		return "DATETIME(6)", nil
	case schema.KindObject:
		if m.Legacy {
			return "TEXT", nil
		}
		return "JSON", nil
	case schema.KindRegExp:
		return "TEXT", nil
	case schema.KindClass, schema.KindInvalid:
		return "", dberr.UnsupportedType(f.Name, f.Kind.String())
	}
	return "", dberr.UnsupportedType(f.Name, f.Kind.String())
}

var mysqlIntWidth = regexp.MustCompile(`^(bigint|int|smallint|mediumint)\(\d+\)`)

// NormalizeType 8.0.19 之后整数类型不再带显示宽度，tinyint(1) 例外
func (m *MySQL) NormalizeType(typ string) string {
	typ = strings.ToLower(strings.TrimSpace(typ))
	typ = strings.TrimSuffix(typ, " unsigned")
	return mysqlIntWidth.ReplaceAllString(typ, "$1")
}

func (m *MySQL) IDType() string {
	return "VARCHAR(36)"
}

func (m *MySQL) PathType() string {
	return "CHAR(40)"
}

func (m *MySQL) IdxType() string {
	return "INT"
}

func (m *MySQL) TableSuffix() string {
	return " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

// ZeroLiteral 新增非空列时 MySQL 使用类型的隐式默认值填充已有行
func (m *MySQL) ZeroLiteral(typ string) string {
	return ""
}

func (m *MySQL) ModifyColumnSQL(table string, col Column) (string, error) {
	def := m.QuoteIdent(col.Name) + " " + col.Type
	if col.NotNull {
		def += " NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", m.QuoteIdent(table), def), nil
}

func (m *MySQL) DropIndexSQL(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", m.QuoteIdent(index), m.QuoteIdent(table))
}

// TruncateSQL 被外键引用的表不能 TRUNCATE
func (m *MySQL) TruncateSQL(table string) string {
	return "DELETE FROM " + m.QuoteIdent(table)
}

// Regex 8.0 之后使用 ICU 的 REGEXP_LIKE，旧版本只有 REGEXP
func (m *MySQL) Regex(column, pattern string, insensitive bool) string {
	if m.Legacy {
		if insensitive {
			return fmt.Sprintf("LOWER(%s) REGEXP LOWER(%s)", column, pattern)
		}
		return fmt.Sprintf("%s REGEXP BINARY %s", column, pattern)
	}
	mode := "'c'"
	if insensitive {
		mode = "'i'"
	}
	return fmt.Sprintf("REGEXP_LIKE(%s, %s, %s)", column, pattern, mode)
}

func (m *MySQL) Boundary() (string, string) {
	if m.Legacy {
		return "[[:<:]]", "[[:>:]]"
	}
	return `\b`, `\b`
}

func (m *MySQL) ILike(column, pattern string) string {
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, pattern)
}

func (m *MySQL) LimitSQL(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT 18446744073709551615 OFFSET %d", offset)
	}
	return ""
}

// BeginSQL SET TRANSACTION 只对下一个事务生效
func (m *MySQL) BeginSQL(isolation string) []string {
	if isolation == "" {
		return []string{"START TRANSACTION"}
	}
	return []string{"SET TRANSACTION ISOLATION LEVEL " + isolation, "START TRANSACTION"}
}

func (m *MySQL) Describe(ctx context.Context, exec Executor, table string) (*TableInfo, error) {
	info := &TableInfo{Name: table, Columns: map[string]ColumnInfo{}}

	res, err := exec.Execute(ctx, fmt.Sprintf(
		"SELECT COLUMN_NAME AS name, COLUMN_TYPE AS type, IS_NULLABLE AS nullable "+
			"FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = %s "+
			"ORDER BY ORDINAL_POSITION", m.QuoteString(table)))
	if err != nil {
		return nil, err
	}
	for _, r := range res.Records {
		name := asString(r["name"])
		info.Columns[name] = ColumnInfo{
			Name:    name,
			Type:    m.NormalizeType(asString(r["type"])),
			NotNull: strings.EqualFold(asString(r["nullable"]), "NO"),
		}
	}
	if len(info.Columns) == 0 {
		return info, nil
	}
	info.Exists = true

	res, err = exec.Execute(ctx, fmt.Sprintf(
		"SELECT INDEX_NAME AS name, NON_UNIQUE AS non_unique, COLUMN_NAME AS col, COLLATION AS collation "+
			"FROM information_schema.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = %s "+
			"ORDER BY INDEX_NAME, SEQ_IN_INDEX", m.QuoteString(table)))
	if err != nil {
		return nil, err
	}

	for _, r := range res.Records {
		name := asString(r["name"])
		if name == "PRIMARY" || name == pathColumn || strings.HasPrefix(name, "fk_") {
			continue
		}
		n := len(info.Indexes)
		if n == 0 || info.Indexes[n-1].Name != name {
			info.Indexes = append(info.Indexes, IndexInfo{Name: name, Unique: asInt(r["non_unique"]) == 0})
			n++
		}
		info.Indexes[n-1].Columns = append(info.Indexes[n-1].Columns, IndexColumn{
			Column: asString(r["col"]),
			Desc:   asString(r["collation"]) == "D",
		})
	}
	return info, nil
}
