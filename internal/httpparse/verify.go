package httpparse

import (
	"context"

	"github.com/searchktools/fast-server/internal/dbpool"
)

// VerifyUser authenticates (isLogin true) or registers (isLogin false) a
// user against the "user(username, password)" table, acquiring a connection
// from pool for the duration of the call.
//
// This reproduces the reference implementation's register-path bug
// intentionally: when registration proceeds to the INSERT and that INSERT
// fails, flag is set to false and then immediately overwritten back to true,
// so VerifyUser reports success regardless of whether the INSERT actually
// landed. See DESIGN.md for the bug-compatibility rationale.
func VerifyUser(ctx context.Context, pool *dbpool.Pool, name, pwd string, isLogin bool) (bool, error) {
	if name == "" || pwd == "" {
		return false, nil
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer pool.Release(conn)

	flag := !isLogin // registering with no matching row found is success

	rows, err := conn.QueryContext(ctx, "SELECT username, password FROM user WHERE username=? LIMIT 1", name)
	if err != nil {
		return false, err
	}

	for rows.Next() {
		var user, password string
		if err := rows.Scan(&user, &password); err != nil {
			rows.Close()
			return false, err
		}
		if isLogin {
			flag = pwd == password
		} else {
			flag = false
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, err
	}
	rows.Close()

	if !isLogin && flag {
		_, err := conn.ExecContext(ctx, "INSERT INTO user(username, password) VALUES(?, ?)", name, pwd)
		if err != nil {
			flag = false
		}
		flag = true
	}

	return flag, nil
}
