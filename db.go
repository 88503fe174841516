package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var SQLITE_DATETIME_LAYOUT string = "2006-01-02 15:04:05"

const (
	SettingTokenPrefix = "fordpass_token_"
)

// CommandEvent is one row of the command audit log.
type CommandEvent struct {
	ID        string    `json:"id"`
	VIN       string    `json:"vin"`
	Timestamp time.Time `json:"ts"`
	Command   string    `json:"command"`
	CommandID string    `json:"command_id"`
	Result    string    `json:"result"`
}

const (
	CommandResultSubmitted = "submitted"
	CommandResultSuccess   = "success"
	CommandResultExpired   = "expired"
	CommandResultTimeout   = "timeout"
	CommandResultFailed    = "failed"
)

type DB struct {
	Connection *sql.DB
	Time       Time
}

var _DBInstance *DB
var _DBOnce sync.Once

func GetDB() *DB {
	_DBOnce.Do(func() {
		_DBInstance = &DB{
			Time: new(RealTime),
		}
	})
	return _DBInstance
}

func (db *DB) Connect() {
	log.Println("Connecting to database...")
	con, err := sql.Open("sqlite", GetConfig().DBFile+"?_pragma=busy_timeout=10000&_pragma=journal_mode=WAL")
	if err != nil {
		log.Panicln(err)
	}
	con.SetMaxOpenConns(10000)
	con.SetMaxIdleConns(10000)
	db.Connection = con
}

func (db *DB) GetConnection() *sql.DB {
	return db.Connection
}

func (db *DB) ResetDBStructure() {
	log.Println("Resetting database...")
	_, err := db.GetConnection().Exec(`
drop table if exists settings;
drop table if exists command_logs;
`)
	if err != nil {
		log.Panicln(err)
	}
}

func (db *DB) InitDBStructure() {
	log.Println("Initializing database structure...")
	_, err := db.GetConnection().Exec(`
create table if not exists settings(key text primary key, value text default '');
create table if not exists command_logs(id text primary key, vin text, ts text, command text, command_id text, result text);
`)
	if err != nil {
		log.Panicln(err)
	}
}

func (db *DB) SetSetting(key, value string) {
	if strings.HasPrefix(key, SettingTokenPrefix) && GetConfig().CryptKey != "" {
		value = "c:" + db.encrypt(value)
	}
	_, err := db.GetConnection().Exec("replace into settings values(?, ?)",
		key, value)
	if err != nil {
		log.Panicln(err)
	}
}

func (db *DB) GetSetting(key string) string {
	var value string
	err := db.GetConnection().QueryRow("select value from settings where key = ?", key).
		Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Println(err)
		}
		return ""
	}
	if strings.HasPrefix(key, SettingTokenPrefix) && GetConfig().CryptKey != "" && strings.Index(value, "c:") == 0 {
		value = db.decrypt(value[2:])
	}
	return value
}

func (db *DB) DeleteSetting(key string) {
	if _, err := db.GetConnection().Exec("delete from settings where key = ?", key); err != nil {
		log.Panicln(err)
	}
}

func (db *DB) LogCommandEvent(vin, command, commandID, result string) {
	log.Printf("command %s for vehicle %s (id %s): %s\n", command, vin, commandID, result)
	_, err := db.GetConnection().Exec("insert into command_logs values(?, ?, ?, ?, ?, ?)",
		uuid.NewString(), vin, db.formatSqliteDatetime(db.Time.UTCNow()), command, commandID, result)
	if err != nil {
		log.Panicln(err)
	}
}

func (db *DB) GetLatestCommandEvent(vin, command string) *CommandEvent {
	e := &CommandEvent{}
	var ts string
	err := db.GetConnection().QueryRow("select id, vin, ts, command, command_id, result "+
		"from command_logs where vin = ? and command = ? order by ts desc, rowid desc limit 1",
		vin, command).
		Scan(&e.ID, &e.VIN, &ts, &e.Command, &e.CommandID, &e.Result)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Println(err)
		}
		return nil
	}
	e.Timestamp, _ = time.Parse(SQLITE_DATETIME_LAYOUT, ts)
	return e
}

func (db *DB) GetLatestCommandEvents(vin string, num int) []*CommandEvent {
	result := []*CommandEvent{}
	rows, err := db.GetConnection().Query("select id, vin, ts, command, command_id, result "+
		"from command_logs where vin = ? order by ts desc, rowid desc limit ?",
		vin, num)
	if err != nil {
		log.Println(err)
		return nil
	}
	defer rows.Close()
	for rows.Next() {
		var ts string
		e := &CommandEvent{}
		rows.Scan(&e.ID, &e.VIN, &ts, &e.Command, &e.CommandID, &e.Result)
		e.Timestamp, _ = time.Parse(SQLITE_DATETIME_LAYOUT, ts)
		result = append(result, e)
	}
	return result
}

func (db *DB) formatSqliteDatetime(ts time.Time) string {
	return ts.Format(SQLITE_DATETIME_LAYOUT)
}

func (db *DB) encrypt(s string) string {
	aes, err := aes.NewCipher([]byte(GetConfig().CryptKey))
	if err != nil {
		panic(err)
	}
	gcm, err := cipher.NewGCM(aes)
	if err != nil {
		panic(err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		panic(err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(s), nil)
	res := base64.StdEncoding.EncodeToString(ciphertext)
	return res
}

func (db *DB) decrypt(s string) string {
	ciphertext, _ := base64.StdEncoding.Strict().DecodeString(s)
	aes, err := aes.NewCipher([]byte(GetConfig().CryptKey))
	if err != nil {
		panic(err)
	}
	gcm, err := cipher.NewGCM(aes)
	if err != nil {
		panic(err)
	}
	nonceSize := gcm.NonceSize()
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, []byte(nonce), []byte(ciphertext), nil)
	if err != nil {
		panic(err)
	}

	return string(plaintext)
}
