package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Artemchik-Development/node-icq-server/wire"
)

// ErrNoUser indicates the requested account does not exist.
var ErrNoUser = errors.New("user does not exist")

// ErrDupUser indicates the account already exists.
var ErrDupUser = errors.New("user already exists")

// User is one registered account.
type User struct {
	UIN       string `json:"uin"`
	Password  string `json:"password,omitempty"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Gender    uint8  `json:"gender"`
	Age       uint16 `json:"age"`
}

// ValidateRoastedPass checks a roasted password submitted by a legacy client.
func (u User) ValidateRoastedPass(roasted []byte) bool {
	return wire.UnroastPassword(roasted) == u.Password
}

// ValidateMD5Hash checks a challenge hash submitted by a modern client.
func (u User) ValidateMD5Hash(challenge string, submitted []byte) bool {
	return wire.ValidateMD5Hash(challenge, u.Password, submitted)
}

// OfflineMessage is a message stored for a recipient who was offline at send
// time.
type OfflineMessage struct {
	Sender    string
	Recipient string
	Message   string
	Sent      time.Time
}

// SQLiteUserStore persists accounts, rosters, and offline messages.
type SQLiteUserStore struct {
	db *sql.DB
}

// NewSQLiteUserStore opens (and if needed creates) the database at path.
func NewSQLiteUserStore(path string) (*SQLiteUserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := &SQLiteUserStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteUserStore) init() error {
	q := `
		CREATE TABLE IF NOT EXISTS users (
			uin       TEXT PRIMARY KEY,
			password  TEXT NOT NULL,
			nickname  TEXT NOT NULL DEFAULT '',
			firstName TEXT NOT NULL DEFAULT '',
			lastName  TEXT NOT NULL DEFAULT '',
			email     TEXT NOT NULL DEFAULT '',
			gender    INTEGER NOT NULL DEFAULT 0,
			age       INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS feedbag (
			uin        TEXT,
			groupID    INTEGER,
			itemID     INTEGER,
			classID    INTEGER,
			name       TEXT,
			attributes BLOB,
			PRIMARY KEY (uin, groupID, itemID)
		);
		CREATE TABLE IF NOT EXISTS offlineMessages (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			sender    TEXT,
			recipient TEXT,
			message   TEXT,
			sent      REAL
		);
	`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteUserStore) Close() error {
	return s.db.Close()
}

// User fetches one account by UIN.
func (s *SQLiteUserStore) User(ctx context.Context, uin string) (User, error) {
	q := `SELECT uin, password, nickname, firstName, lastName, email, gender, age FROM users WHERE uin = ?`
	var u User
	err := s.db.QueryRowContext(ctx, q, uin).
		Scan(&u.UIN, &u.Password, &u.Nickname, &u.FirstName, &u.LastName, &u.Email, &u.Gender, &u.Age)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNoUser
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// InsertUser creates an account. Fails with ErrDupUser when the UIN is taken.
func (s *SQLiteUserStore) InsertUser(ctx context.Context, u User) error {
	q := `
		INSERT INTO users (uin, password, nickname, firstName, lastName, email, gender, age)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, q, u.UIN, u.Password, u.Nickname, u.FirstName, u.LastName, u.Email, u.Gender, u.Age)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDupUser
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// DeleteUser removes an account along with its roster and pending messages.
func (s *SQLiteUserStore) DeleteUser(ctx context.Context, uin string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE uin = ?`, uin)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoUser
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feedbag WHERE uin = ?`, uin); err != nil {
		return fmt.Errorf("delete user roster: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM offlineMessages WHERE recipient = ?`, uin); err != nil {
		return fmt.Errorf("delete user offline messages: %w", err)
	}
	return tx.Commit()
}

// AllUsers lists every account without password fields.
func (s *SQLiteUserStore) AllUsers(ctx context.Context) ([]User, error) {
	q := `SELECT uin, nickname, firstName, lastName, email, gender, age FROM users ORDER BY uin`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UIN, &u.Nickname, &u.FirstName, &u.LastName, &u.Email, &u.Gender, &u.Age); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindByUIN looks up one account by exact UIN for directory search.
func (s *SQLiteUserStore) FindByUIN(ctx context.Context, uin string) ([]User, error) {
	u, err := s.User(ctx, uin)
	if errors.Is(err, ErrNoUser) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []User{u}, nil
}

// FindByDetails runs a case-insensitive substring search over the directory
// fields. Empty criteria are skipped; set criteria combine with AND. All
// criteria empty yields no results.
func (s *SQLiteUserStore) FindByDetails(ctx context.Context, nickname, firstName, lastName, email string) ([]User, error) {
	var conds []string
	var args []any
	for _, f := range []struct {
		col string
		val string
	}{
		{"nickname", nickname},
		{"firstName", firstName},
		{"lastName", lastName},
		{"email", email},
	} {
		if f.val == "" {
			continue
		}
		conds = append(conds, fmt.Sprintf("LOWER(%s) LIKE ?", f.col))
		args = append(args, "%"+strings.ToLower(f.val)+"%")
	}
	if len(conds) == 0 {
		return nil, nil
	}
	q := `SELECT uin, nickname, firstName, lastName, email, gender, age FROM users WHERE ` +
		strings.Join(conds, " AND ") + ` LIMIT 20`
	return s.queryUsers(ctx, q, args...)
}

func (s *SQLiteUserStore) queryUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UIN, &u.Nickname, &u.FirstName, &u.LastName, &u.Email, &u.Gender, &u.Age); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserDetails updates the directory fields of an account.
func (s *SQLiteUserStore) SetUserDetails(ctx context.Context, u User) error {
	q := `UPDATE users SET nickname = ?, firstName = ?, lastName = ?, email = ? WHERE uin = ?`
	res, err := s.db.ExecContext(ctx, q, u.Nickname, u.FirstName, u.LastName, u.Email, u.UIN)
	if err != nil {
		return fmt.Errorf("update user details: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoUser
	}
	return nil
}

// Feedbag returns the stored roster of uin.
func (s *SQLiteUserStore) Feedbag(ctx context.Context, uin string) ([]wire.FeedbagItem, error) {
	q := `SELECT name, groupID, itemID, classID, attributes FROM feedbag WHERE uin = ? ORDER BY groupID, itemID`
	rows, err := s.db.QueryContext(ctx, q, uin)
	if err != nil {
		return nil, fmt.Errorf("select roster: %w", err)
	}
	defer rows.Close()

	var items []wire.FeedbagItem
	for rows.Next() {
		var item wire.FeedbagItem
		if err := rows.Scan(&item.Name, &item.GroupID, &item.ItemID, &item.ClassID, &item.Attributes); err != nil {
			return nil, fmt.Errorf("scan roster item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FeedbagUpsert inserts or replaces one roster item, keyed by owner, group,
// and item IDs.
func (s *SQLiteUserStore) FeedbagUpsert(ctx context.Context, uin string, item wire.FeedbagItem) error {
	q := `
		INSERT OR REPLACE INTO feedbag (uin, groupID, itemID, classID, name, attributes)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, q, uin, item.GroupID, item.ItemID, item.ClassID, item.Name, item.Attributes); err != nil {
		return fmt.Errorf("upsert roster item: %w", err)
	}
	return nil
}

// FeedbagDelete removes one roster item.
func (s *SQLiteUserStore) FeedbagDelete(ctx context.Context, uin string, item wire.FeedbagItem) error {
	q := `DELETE FROM feedbag WHERE uin = ? AND groupID = ? AND itemID = ?`
	if _, err := s.db.ExecContext(ctx, q, uin, item.GroupID, item.ItemID); err != nil {
		return fmt.Errorf("delete roster item: %w", err)
	}
	return nil
}

// BuddyNames lists the UINs on uin's roster (buddy-class items only).
func (s *SQLiteUserStore) BuddyNames(ctx context.Context, uin string) ([]string, error) {
	q := `SELECT name FROM feedbag WHERE uin = ? AND classID = ?`
	rows, err := s.db.QueryContext(ctx, q, uin, wire.FeedbagClassIDBuddy)
	if err != nil {
		return nil, fmt.Errorf("select buddies: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan buddy name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// BuddyWatchers lists the accounts whose rosters contain uin: the reverse of
// BuddyNames, used to seed presence fan-out.
func (s *SQLiteUserStore) BuddyWatchers(ctx context.Context, uin string) ([]string, error) {
	q := `SELECT DISTINCT uin FROM feedbag WHERE name = ? AND classID = ?`
	rows, err := s.db.QueryContext(ctx, q, uin, wire.FeedbagClassIDBuddy)
	if err != nil {
		return nil, fmt.Errorf("select watchers: %w", err)
	}
	defer rows.Close()

	var watchers []string
	for rows.Next() {
		var watcher string
		if err := rows.Scan(&watcher); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		watchers = append(watchers, watcher)
	}
	return watchers, rows.Err()
}

// StoreOfflineMessage queues a message for an offline recipient.
func (s *SQLiteUserStore) StoreOfflineMessage(ctx context.Context, msg OfflineMessage) error {
	q := `INSERT INTO offlineMessages (sender, recipient, message, sent) VALUES (?, ?, ?, ?)`
	sent := float64(msg.Sent.UnixMilli()) / 1000.0
	if _, err := s.db.ExecContext(ctx, q, msg.Sender, msg.Recipient, msg.Message, sent); err != nil {
		return fmt.Errorf("store offline message: %w", err)
	}
	return nil
}

// DrainOfflineMessages returns the queued messages for recipient in send
// order and deletes them in the same transaction, so a redelivery attempt
// drains empty.
func (s *SQLiteUserStore) DrainOfflineMessages(ctx context.Context, recipient string) ([]OfflineMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin offline drain: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT sender, message, sent FROM offlineMessages WHERE recipient = ? ORDER BY sent, id`
	rows, err := tx.QueryContext(ctx, q, recipient)
	if err != nil {
		return nil, fmt.Errorf("select offline messages: %w", err)
	}

	var msgs []OfflineMessage
	for rows.Next() {
		msg := OfflineMessage{Recipient: recipient}
		var sent float64
		if err := rows.Scan(&msg.Sender, &msg.Message, &sent); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan offline message: %w", err)
		}
		msg.Sent = time.UnixMilli(int64(sent * 1000))
		msgs = append(msgs, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM offlineMessages WHERE recipient = ?`, recipient); err != nil {
		return nil, fmt.Errorf("delete offline messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit offline drain: %w", err)
	}
	return msgs, nil
}
