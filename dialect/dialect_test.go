package dialect

import (
	"regexp"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hatlonely/docrdb/dberr"
	"github.com/hatlonely/docrdb/schema"
)

const testSchema = `
classes:
  - name: Doc
    store: docs
    indices:
      - fields: [{name: name}]
        unique: true
      - name: idx_city
        fields: [{name: a.city, desc: true}]
      - fields: [{name: a.b.c}]
    fields:
      - {name: name, type: string, required: true, maxlength: 64}
      - {name: age, type: integer}
      - {name: score, type: number, precision: {digits: 10, decimals: 2}}
      - {name: active, type: boolean}
      - {name: created, type: date}
      - {name: meta, type: object}
      - {name: a, type: A}
      - {name: items, type: Item, array: true}
      - {name: tags, type: string, array: true}
  - name: A
    fields:
      - {name: city, type: string}
      - {name: b, type: B}
  - name: B
    fields:
      - {name: c, type: integer}
  - name: Item
    fields:
      - {name: sku, type: string}
`

func newTestDialect(t *testing.T, engine Engine) *Dialect {
	reg, err := schema.Load([]byte(testSchema))
	require.NoError(t, err)
	return New(reg, engine, "")
}

func TestTables(t *testing.T) {
	Convey("测试 Tables", t, func() {
		d := newTestDialect(t, &SQLite{})
		tables, err := d.Tables("Doc")
		So(err, ShouldBeNil)

		var names, aliases, keys []string
		for _, table := range tables {
			names = append(names, table.Name)
			aliases = append(aliases, table.Alias)
			keys = append(keys, table.Key)
		}
		So(names, ShouldResemble, []string{"docs", "docs_a", "docs_items", "docs_tags", "docs_a_b"})
		So(aliases, ShouldResemble, []string{"t0", "t1", "t2", "t3", "t4"})
		So(keys, ShouldResemble, []string{"", "a", "items", "tags", "a.b"})

		So(tables[0].IsRoot(), ShouldBeTrue)
		So(tables[2].IsArray(), ShouldBeTrue)
		So(tables[3].IsPrimitive(), ShouldBeTrue)
		So(tables[4].Parent, ShouldEqual, tables[1])

		Convey("MySQL 表名带前缀并转为小写", func() {
			reg, _ := schema.Load([]byte(testSchema))
			d := New(reg, &MySQL{}, "App_")
			root, err := d.RootTable("Doc")
			So(err, ShouldBeNil)
			So(root.Name, ShouldEqual, "app_docs")
		})
	})
}

func TestCreateTableSQL(t *testing.T) {
	Convey("测试 CreateTableSQL", t, func() {
		Convey("MySQL 根表", func() {
			d := newTestDialect(t, &MySQL{})
			tables, _ := d.Tables("Doc")
			sql, err := d.CreateTableSQL(tables[0])
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "CREATE TABLE IF NOT EXISTS `docs` (\n"+
				"  `id` VARCHAR(36) NOT NULL,\n"+
				"  `__path` CHAR(40) NOT NULL UNIQUE,\n"+
				"  `name` VARCHAR(64) NOT NULL,\n"+
				"  `age` BIGINT,\n"+
				"  `score` DECIMAL(10,2),\n"+
				"  `active` TINYINT(1),\n"+
				"  `created` DATETIME(6),\n"+
				"  `meta` JSON,\n"+
				"  PRIMARY KEY (`id`)\n"+
				") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
		})

		Convey("Postgres 数组子表", func() {
			d := newTestDialect(t, &Postgres{})
			tables, _ := d.Tables("Doc")
			sql, err := d.CreateTableSQL(tables[2])
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `CREATE TABLE IF NOT EXISTS "docs_items" (`+"\n"+
				`  "__path" character(40) NOT NULL,`+"\n"+
				`  "__parent_path" character(40) NOT NULL,`+"\n"+
				`  "__idx" integer NOT NULL,`+"\n"+
				`  "sku" character varying(255),`+"\n"+
				`  PRIMARY KEY ("__path"),`+"\n"+
				`  CONSTRAINT "fk_docs_items" FOREIGN KEY ("__parent_path") REFERENCES "docs" ("__path") ON DELETE CASCADE`+"\n"+
				`)`)
		})

		Convey("SQLite 基础类型数组表", func() {
			d := newTestDialect(t, &SQLite{})
			tables, _ := d.Tables("Doc")
			cols, err := d.Columns(tables[3])
			So(err, ShouldBeNil)
			So(cols[len(cols)-1], ShouldResemble, Column{Name: "tags", Type: "TEXT", Field: tables[3].Field})
		})

		Convey("Legacy MySQL 长字符串转为 TEXT", func() {
			d := newTestDialect(t, &MySQL{Legacy: true})
			typ, err := d.Engine().ColumnType(&schema.FieldConfig{Name: "x", Kind: schema.KindString, MaxLength: 1000})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "TEXT")
		})

		Convey("嵌套类型没有列类型", func() {
			d := newTestDialect(t, &SQLite{})
			_, err := d.Engine().ColumnType(&schema.FieldConfig{Name: "x", Kind: schema.KindClass, Type: "A"})
			So(dberr.IsUnsupportedType(err), ShouldBeTrue)
		})
	})
}

func TestAlterSQL(t *testing.T) {
	Convey("测试列和索引的 DDL", t, func() {
		f := &schema.FieldConfig{Name: "nick", Kind: schema.KindString, Required: true}

		d := newTestDialect(t, &SQLite{})
		root, _ := d.RootTable("Doc")
		sql, err := d.AddColumnSQL(root, f)
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, `ALTER TABLE "docs" ADD COLUMN "nick" TEXT NOT NULL DEFAULT ''`)
		_, err = d.ModifyColumnSQL(root, f)
		So(err, ShouldNotBeNil)
		So(d.DropColumnSQL(root, "nick"), ShouldEqual, `ALTER TABLE "docs" DROP COLUMN "nick"`)

		d = newTestDialect(t, &MySQL{})
		root, _ = d.RootTable("Doc")
		sql, err = d.ModifyColumnSQL(root, f)
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "ALTER TABLE `docs` MODIFY COLUMN `nick` VARCHAR(255) NOT NULL")
		sql, err = d.AddColumnSQL(root, f)
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, "ALTER TABLE `docs` ADD COLUMN `nick` VARCHAR(255) NOT NULL")

		d = newTestDialect(t, &Postgres{})
		root, _ = d.RootTable("Doc")
		sql, err = d.ModifyColumnSQL(root, f)
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, `ALTER TABLE "docs" ALTER COLUMN "nick" TYPE character varying(255) USING "nick"::character varying(255), ALTER COLUMN "nick" SET NOT NULL`)
		So(d.TruncateTableSQL(root), ShouldEqual, `TRUNCATE TABLE "docs" CASCADE`)
	})
}

func TestIndexes(t *testing.T) {
	Convey("测试 Indexes", t, func() {
		d := newTestDialect(t, &MySQL{})
		indexes, err := d.Indexes("Doc")
		So(err, ShouldBeNil)
		So(indexes, ShouldHaveLength, 3)

		So(indexes[0].Table.Name, ShouldEqual, "docs")
		So(indexes[0].Index, ShouldResemble, IndexInfo{
			Name: "docs_uk_name", Unique: true, Columns: []IndexColumn{{Column: "name"}},
		})
		So(d.CreateIndexSQL(indexes[0].Table, indexes[0].Index), ShouldEqual,
			"CREATE UNIQUE INDEX `docs_uk_name` ON `docs` (`name`)")

		So(indexes[1].Table.Name, ShouldEqual, "docs_a")
		So(indexes[1].Index, ShouldResemble, IndexInfo{
			Name: "docs_a_idx_city", Columns: []IndexColumn{{Column: "city", Desc: true}},
		})

		So(indexes[2].Table.Name, ShouldEqual, "docs_a_b")
		So(indexes[2].Index.Name, ShouldEqual, "docs_a_b_idx_c")

		Convey("Postgres 带 IF NOT EXISTS", func() {
			d := newTestDialect(t, &Postgres{})
			indexes, err := d.Indexes("Doc")
			So(err, ShouldBeNil)
			So(d.CreateIndexSQL(indexes[1].Table, indexes[1].Index), ShouldEqual,
				`CREATE INDEX IF NOT EXISTS "docs_a_idx_city" ON "docs_a" ("city" DESC)`)
			So(d.DropIndexSQL(indexes[1].Table, indexes[1].Index.Name), ShouldEqual, `DROP INDEX IF EXISTS "docs_a_idx_city"`)
		})
	})
}

func TestIndexesSpanTables(t *testing.T) {
	reg, err := schema.Load([]byte(`
classes:
  - name: P
    indices:
      - fields: [{name: name}, {name: addr.city}]
    fields:
      - {name: name, type: string}
      - {name: addr, type: Addr}
  - name: Addr
    fields:
      - {name: city, type: string}
`))
	require.NoError(t, err)

	d := New(reg, &SQLite{}, "")
	_, err = d.Indexes("P")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spans tables")
}

func TestIndexInfoEqual(t *testing.T) {
	a := IndexInfo{Name: "a", Unique: true, Columns: []IndexColumn{{Column: "x"}, {Column: "y", Desc: true}}}

	tests := []struct {
		name  string
		other IndexInfo
		equal bool
	}{
		{"different name", IndexInfo{Name: "b", Unique: true, Columns: []IndexColumn{{Column: "x"}, {Column: "Y", Desc: true}}}, true},
		{"different unique", IndexInfo{Name: "a", Columns: a.Columns}, false},
		{"different direction", IndexInfo{Name: "a", Unique: true, Columns: []IndexColumn{{Column: "x"}, {Column: "y"}}}, false},
		{"different columns", IndexInfo{Name: "a", Unique: true, Columns: []IndexColumn{{Column: "x"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, a.Equal(tt.other))
		})
	}
}

func TestDescribeValues(t *testing.T) {
	tests := []struct {
		name  string
		raw   any
		str   string
		num   int64
		truth bool
	}{
		{"nil", nil, "", 0, false},
		{"bytes", []byte("1"), "1", 1, true},
		{"padded bytes", []byte(" 0 "), " 0 ", 0, false},
		{"string", "true", "true", 0, true},
		{"int64", int64(3), "3", 3, true},
		{"bool", false, "false", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.str, asString(tt.raw))
			assert.Equal(t, tt.num, asInt(tt.raw))
			assert.Equal(t, tt.truth, asBool(tt.raw))
		})
	}
}

func TestNewEngine(t *testing.T) {
	for _, name := range []string{"mysql", "postgres", "pgx", "sqlite3"} {
		e, err := NewEngine(name, false)
		require.NoError(t, err)
		assert.NotNil(t, e)
	}
	_, err := NewEngine("oracle", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported engine: oracle")
}

func TestWhereSQL(t *testing.T) {
	Convey("测试 WhereSQL", t, func() {
		d := newTestDialect(t, &MySQL{})

		Convey("嵌套分组与嵌套对象", func() {
			reg := schema.NewRegistry()
			So(reg.Register(&schema.ClassConfig{Name: "R", Fields: []*schema.FieldConfig{
				{Name: "name", Kind: schema.KindInteger},
				{Name: "age", Kind: schema.KindInteger},
				{Name: "a", Kind: schema.KindClass, Type: "A"},
			}}), ShouldBeNil)
			So(reg.Register(&schema.ClassConfig{Name: "A", Fields: []*schema.FieldConfig{
				{Name: "b", Kind: schema.KindClass, Type: "B"},
			}}), ShouldBeNil)
			So(reg.Register(&schema.ClassConfig{Name: "B", Fields: []*schema.FieldConfig{
				{Name: "c", Kind: schema.KindInteger},
			}}), ShouldBeNil)

			d := New(reg, &MySQL{}, "")
			sql, err := d.WhereSQL("R", bson.M{"$and": bson.A{
				bson.M{"a": bson.M{"b": bson.M{"c": 5}}},
				bson.M{"$or": bson.A{bson.M{"name": 5}, bson.M{"age": 10}}},
			}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t2.`c` = 5 AND (t0.`name` = 5 OR t0.`age` = 10))")

			sql, err = d.WhereSQL("R", bson.M{"a.b.c": bson.M{"$gte": 1, "$lt": 3}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t2.`c` >= 1 AND t2.`c` < 3)")
		})

		Convey("多个键按名称排序，bson.D 保持顺序", func() {
			sql, err := d.WhereSQL("Doc", bson.M{"name": "x", "age": 3})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t0.`age` = 3 AND t0.`name` = 'x')")

			sql, err = d.WhereSQL("Doc", bson.D{{Key: "name", Value: "x"}, {Key: "age", Value: 3}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t0.`name` = 'x' AND t0.`age` = 3)")
		})

		Convey("null 比较", func() {
			sql, err := d.WhereSQL("Doc", bson.M{"name": bson.M{"$ne": nil}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "t0.`name` IS NOT NULL")

			sql, err = d.WhereSQL("Doc", bson.M{"name": nil})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "t0.`name` IS NULL")

			sql, err = d.WhereSQL("Doc", bson.M{"name": bson.M{"$ne": "x"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t0.`name` <> 'x' OR t0.`name` IS NULL)")
		})

		Convey("$in/$nin/$not/$exists", func() {
			sql, err := d.WhereSQL("Doc", bson.M{"age": bson.M{"$in": bson.A{1, 2}}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "t0.`age` IN (1, 2)")

			sql, err = d.WhereSQL("Doc", bson.M{"age": bson.M{"$in": bson.A{}}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "1 = 0")

			sql, err = d.WhereSQL("Doc", bson.M{"age": bson.M{"$nin": bson.A{1}}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t0.`age` NOT IN (1) OR t0.`age` IS NULL)")

			sql, err = d.WhereSQL("Doc", bson.M{"$not": bson.M{"age": bson.M{"$gt": 1}}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "NOT (t0.`age` > 1)")

			sql, err = d.WhereSQL("Doc", bson.M{"age": bson.M{"$exists": false}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "t0.`age` IS NULL")

			sql, err = d.WhereSQL("Doc", bson.M{"a": bson.M{"$exists": true}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "EXISTS (SELECT 1 FROM `docs_a` e0 WHERE e0.`__parent_path` = t0.`__path`)")
		})

		Convey("基础类型数组", func() {
			sql, err := d.WhereSQL("Doc", bson.M{"tags": "go"})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "t3.`tags` = 'go'")

			sql, err = d.WhereSQL("Doc", bson.M{"tags": bson.M{"$all": bson.A{"go", "sql"}}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(EXISTS (SELECT 1 FROM `docs_tags` e0 WHERE e0.`__parent_path` = t0.`__path` AND e0.`tags` = 'go') AND "+
				"EXISTS (SELECT 1 FROM `docs_tags` e1 WHERE e1.`__parent_path` = t0.`__path` AND e1.`tags` = 'sql'))")
		})

		Convey("日期和布尔字面量", func() {
			created := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
			sql, err := d.WhereSQL("Doc", bson.M{"created": bson.M{"$gt": created}, "active": true})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(t0.`active` = TRUE AND t0.`created` > '2024-05-06 07:08:09.123456')")
		})

		Convey("错误", func() {
			_, err := d.WhereSQL("Doc", bson.M{"unknown": 1})
			So(err, ShouldNotBeNil)
			_, err = d.WhereSQL("Doc", bson.M{"age": bson.M{"$near": 1}})
			So(err, ShouldNotBeNil)
			_, err = d.WhereSQL("Doc", bson.M{"name.x": 1})
			So(err, ShouldNotBeNil)
			_, err = d.WhereSQL("Doc", bson.M{"age": "abc"})
			So(dberr.IsUnsupportedType(err), ShouldBeTrue)
		})
	})
}

func TestRegex(t *testing.T) {
	Convey("测试正则", t, func() {
		filter := bson.M{"name": bson.M{"$regex": regexp.MustCompile(`\bgoogle\b`)}}

		Convey("单词边界替换", func() {
			sql, err := newTestDialect(t, &MySQL{}).WhereSQL("Doc", filter)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `REGEXP_LIKE(t0.`+"`name`"+`, '\\bgoogle\\b', 'c')`)

			sql, err = newTestDialect(t, &MySQL{Legacy: true}).WhereSQL("Doc", filter)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "t0.`name` REGEXP BINARY '[[:<:]]google[[:>:]]'")

			sql, err = newTestDialect(t, &Postgres{}).WhereSQL("Doc", filter)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" ~ '\ygoogle\y'`)

			sql, err = newTestDialect(t, &SQLite{}).WhereSQL("Doc", filter)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" REGEXP '\bgoogle\b'`)
		})

		Convey("前缀匹配改写为 LIKE", func() {
			d := newTestDialect(t, &Postgres{})
			sql, err := d.WhereSQL("Doc", bson.M{"name": primitive.Regex{Pattern: "^goo"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" LIKE 'goo%'`)

			sql, err = d.WhereSQL("Doc", bson.M{"name": primitive.Regex{Pattern: "^goo.*$", Options: "i"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" ILIKE 'goo%'`)

			sql, err = d.WhereSQL("Doc", bson.M{"name": bson.M{"$regex": "^goo$"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" ~ '^goo$'`)

			sql, err = d.WhereSQL("Doc", bson.M{"name": bson.M{"$regex": "^go_o"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" ~ '^go_o'`)

			sql, err = d.WhereSQL("Doc", bson.M{"name": bson.M{"$iregex": "oo"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" ~* 'oo'`)

			sql, err = d.WhereSQL("Doc", bson.M{"name": bson.M{"$regex": "oo", "$options": "i"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" ~* 'oo'`)
		})

		Convey("LIKE 与 ILIKE", func() {
			sql, err := newTestDialect(t, &MySQL{}).WhereSQL("Doc", bson.M{"name": bson.M{"$ilike": "%Go%"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "LOWER(t0.`name`) LIKE LOWER('%Go%')")

			sql, err = newTestDialect(t, &SQLite{}).WhereSQL("Doc", bson.M{"name": bson.M{"$like": "G%"}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `t0."name" LIKE 'G%'`)
		})
	})
}

func TestParseFilter(t *testing.T) {
	Convey("测试 ParseFilter", t, func() {
		filter, err := ParseFilter([]byte(`{"name": "x", "age": {"$gt": 3}, "created": {"$lt": {"$date": "2024-01-02T03:04:05Z"}}}`))
		So(err, ShouldBeNil)

		d := newTestDialect(t, &SQLite{})
		sql, err := d.WhereSQL("Doc", filter)
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, `(t0."name" = 'x' AND t0."age" > 3 AND t0."created" < '2024-01-02 03:04:05.000000')`)

		_, err = ParseFilter([]byte(`not json`))
		So(err, ShouldNotBeNil)
	})
}

func TestQuerySQL(t *testing.T) {
	Convey("测试 QuerySQL", t, func() {
		d := newTestDialect(t, &SQLite{})

		Convey("只连接过滤引用的表", func() {
			sql, err := d.QuerySQL("Doc", &Query{
				Filter: bson.M{"a.city": "Paris"},
				Select: []string{"name"},
				Sort:   []Sort{{Field: "a.b.c", Desc: true}},
				Limit:  10,
				Offset: 20,
			})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `SELECT DISTINCT t0."id", t0."__path", t0."name", t4."c" AS __sort0 `+
				`FROM "docs" t0 LEFT OUTER JOIN "docs_a" t1 ON t1."__parent_path" = t0."__path" `+
				`LEFT OUTER JOIN "docs_a_b" t4 ON t4."__parent_path" = t1."__path" `+
				`WHERE t1."city" = 'Paris' ORDER BY __sort0 DESC LIMIT 10 OFFSET 20`)
		})

		Convey("无条件查询", func() {
			sql, err := d.QuerySQL("Doc", nil)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `SELECT DISTINCT t0."id", t0."__path", t0."name", t0."age", t0."score", t0."active", t0."created", t0."meta" FROM "docs" t0`)
		})

		Convey("数组中的字段不能排序", func() {
			_, err := d.QuerySQL("Doc", &Query{Sort: []Sort{{Field: "items.sku"}}})
			So(err, ShouldNotBeNil)
		})

		Convey("FromSQL 连接全部表", func() {
			sql, err := d.FromSQL("Doc")
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `FROM "docs" t0 `+
				`LEFT OUTER JOIN "docs_a" t1 ON t1."__parent_path" = t0."__path" `+
				`LEFT OUTER JOIN "docs_items" t2 ON t2."__parent_path" = t0."__path" `+
				`LEFT OUTER JOIN "docs_tags" t3 ON t3."__parent_path" = t0."__path" `+
				`LEFT OUTER JOIN "docs_a_b" t4 ON t4."__parent_path" = t1."__path"`)
		})

		Convey("计数与分组", func() {
			sql, err := d.CountSQL("Doc", bson.M{"age": bson.M{"$gt": 1}})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `SELECT COUNT(DISTINCT t0."id") AS "count" FROM "docs" t0 WHERE t0."age" > 1`)

			sql, err = d.CountBySQL("Doc", nil, "tags", 5)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `SELECT t3."tags" AS "value", COUNT(DISTINCT t0."id") AS "count" `+
				`FROM "docs" t0 LEFT OUTER JOIN "docs_tags" t3 ON t3."__parent_path" = t0."__path" `+
				`GROUP BY t3."tags" ORDER BY "count" DESC, "value" LIMIT 5`)
		})
	})
}

func TestProjection(t *testing.T) {
	p := NewProjection([]string{"a.b.c", "a.city", "name", "items", "items.sku"})
	assert.Equal(t, Projection{
		"a":     Projection{"b": Projection{"c": nil}, "city": nil},
		"name":  nil,
		"items": nil,
	}, p)

	sub, ok := p.Includes("a")
	assert.True(t, ok)
	_, ok = sub.Includes("x")
	assert.False(t, ok)

	_, ok = Projection(nil).Includes("anything")
	assert.True(t, ok)
}

func TestInsertSQL(t *testing.T) {
	Convey("测试 InsertWrappers/InsertSQL", t, func() {
		d := newTestDialect(t, &SQLite{})
		wrappers, err := d.InsertWrappers("Doc", []schema.Document{{
			"id":    "u1",
			"name":  "it's",
			"age":   3,
			"a":     schema.Document{"city": "Paris", "b": schema.Document{"c": 1}},
			"items": []any{schema.Document{"sku": "s1"}, schema.Document{"sku": "s2"}},
			"tags":  []string{"go"},
		}})
		So(err, ShouldBeNil)

		var tables []string
		for _, w := range wrappers {
			tables = append(tables, w.Table.Name)
		}
		So(tables, ShouldResemble, []string{"docs", "docs_a", "docs_items", "docs_tags", "docs_a_b"})

		sql, ok, err := d.InsertSQL(wrappers[0])
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(sql, ShouldEqual, `INSERT INTO "docs" ("id", "__path", "name", "age", "score", "active", "created", "meta") `+
			`VALUES ('u1', sha1('u1'), 'it''s', 3, NULL, NULL, NULL, NULL)`)

		sql, _, err = d.InsertSQL(wrappers[2])
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, `INSERT INTO "docs_items" ("__path", "__parent_path", "__idx", "sku") VALUES `+
			`(sha1('u1.items.0'), sha1('u1'), 0, 's1'), (sha1('u1.items.1'), sha1('u1'), 1, 's2')`)

		sql, _, err = d.InsertSQL(wrappers[4])
		So(err, ShouldBeNil)
		So(sql, ShouldEqual, `INSERT INTO "docs_a_b" ("__path", "__parent_path", "c") VALUES (sha1('u1.a.b'), sha1('u1.a'), 1)`)

		_, ok, err = d.InsertSQL(&InsertWrapper{})
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		Convey("删除与查询 id", func() {
			root, _ := d.RootTable("Doc")
			sql, ok := d.DeleteSQL(&DeleteWrapper{Table: root, IDs: []string{"u1", "u2"}})
			So(ok, ShouldBeTrue)
			So(sql, ShouldEqual, `DELETE FROM "docs" WHERE "id" IN ('u1', 'u2')`)

			sql, err := d.SelectIDsSQL("Doc", []string{"u1"})
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, `SELECT "id" FROM "docs" WHERE "id" IN ('u1')`)
		})

		Convey("子表查询", func() {
			tables, _ := d.Tables("Doc")
			So(d.DependentsSQL(tables[2], nil, []string{"p1", "p2"}), ShouldEqual,
				`SELECT "__path", "__parent_path", "__idx", "sku" FROM "docs_items" WHERE "__parent_path" IN ('p1', 'p2') ORDER BY "__parent_path", "__idx"`)
			So(d.DependentsSQL(tables[1], Projection{"b": nil}, []string{"p"}), ShouldEqual,
				`SELECT "__path", "__parent_path" FROM "docs_a" WHERE "__parent_path" IN ('p')`)
		})
	})
}

func TestResolveValue(t *testing.T) {
	d := newTestDialect(t, &MySQL{})
	when := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.FixedZone("CST", 8*3600))

	tests := []struct {
		name  string
		field *schema.FieldConfig
		value any
		want  string
	}{
		{"nil", &schema.FieldConfig{Kind: schema.KindString}, nil, "NULL"},
		{"string", &schema.FieldConfig{Kind: schema.KindString}, `a'b\c`, `'a''b\\c'`},
		{"number", &schema.FieldConfig{Kind: schema.KindNumber}, 1.5, "1.5"},
		{"integer from float", &schema.FieldConfig{Kind: schema.KindInteger}, float64(3), "3"},
		{"boolean", &schema.FieldConfig{Kind: schema.KindBoolean}, false, "FALSE"},
		{"date in utc", &schema.FieldConfig{Kind: schema.KindDate}, when, "'2024-05-05 23:08:09.123456'"},
		{"bson date", &schema.FieldConfig{Kind: schema.KindDate}, primitive.NewDateTimeFromTime(when), "'2024-05-05 23:08:09.123000'"},
		{"object", &schema.FieldConfig{Kind: schema.KindObject}, map[string]any{"k": []int{1}}, `'{"k":[1]}'`},
		{"regexp", &schema.FieldConfig{Kind: schema.KindRegExp}, regexp.MustCompile(`^a\d`), `'^a\\d'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ResolveValue(tt.field, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := d.ResolveValue(&schema.FieldConfig{Kind: schema.KindInteger}, 1.5)
	assert.True(t, dberr.IsUnsupportedType(err))
	_, err = d.ResolveValue(&schema.FieldConfig{Kind: schema.KindClass}, map[string]any{})
	assert.True(t, dberr.IsUnsupportedType(err))
}

func TestDecodeValue(t *testing.T) {
	d := newTestDialect(t, &MySQL{})

	tests := []struct {
		name string
		kind schema.FieldKind
		raw  any
		want any
	}{
		{"bytes to string", schema.KindString, []byte("abc"), "abc"},
		{"int to bool", schema.KindBoolean, int64(1), true},
		{"bytes to number", schema.KindNumber, []byte("1.25"), 1.25},
		{"bytes to integer", schema.KindInteger, []byte("42"), int64(42)},
		{"json object", schema.KindObject, []byte(`{"k":1}`), map[string]any{"k": float64(1)}},
		{"date string", schema.KindDate, "2024-05-06 07:08:09.123456", time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DecodeValue(&schema.FieldConfig{Name: "f", Kind: tt.kind}, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := d.DecodeValue(&schema.FieldConfig{Name: "f", Kind: schema.KindInteger}, "x")
	assert.Error(t, err)
}
