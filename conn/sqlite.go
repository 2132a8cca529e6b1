package conn

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName 注册了 sha1 和 regexp 函数的 sqlite3 驱动，每个新连接都会打开外键约束
const SQLiteDriverName = "sqlite3_docrdb"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			if err := c.RegisterFunc("sha1", sqliteSHA1, true); err != nil {
				return err
			}
			if err := c.RegisterFunc("regexp", sqliteRegexp, true); err != nil {
				return err
			}
			_, err := c.Exec("PRAGMA foreign_keys = ON", nil)
			return err
		},
	})
}

func sqliteSHA1(value any) string {
	sum := sha1.Sum([]byte(sqliteText(value)))
	return hex.EncodeToString(sum[:])
}

var sqlitePatterns sync.Map // pattern -> *regexp.Regexp

// sqliteRegexp X REGEXP Y 调用 regexp(Y, X)，NULL 不匹配任何模式
func sqliteRegexp(pattern string, value any) (bool, error) {
	if value == nil {
		return false, nil
	}
	re, ok := sqlitePatterns.Load(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		re, _ = sqlitePatterns.LoadOrStore(pattern, compiled)
	}
	return re.(*regexp.Regexp).MatchString(sqliteText(value)), nil
}

func sqliteText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
