package kernel

import (
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
)

// buildExtensions wires the host-injected extension points named in
// §4.5/§9. A nil Config.DB means no extension point is installed; the
// spec treats database access as entirely optional with no semantics
// of its own.
func buildExtensions(cfg *config.Config) (map[string]any, error) {
	if cfg.DB == nil {
		return nil, nil
	}
	switch cfg.DB.Dialect {
	case "sqlite":
		return buildSQLiteExtension(cfg.DB.DSN)
	default:
		return nil, nil
	}
}

func buildSQLiteExtension(dsn string) (map[string]any, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "open sqlite %s", dsn)
	}

	execSQL := func(query string, args ...any) ([]map[string]any, error) {
		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		var out []map[string]any
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, err
			}
			row := make(map[string]any, len(cols))
			for i, c := range cols {
				row[c] = vals[i]
			}
			out = append(out, row)
		}
		return out, rows.Err()
	}

	return map[string]any{"exec_sql": execSQL}, nil
}
