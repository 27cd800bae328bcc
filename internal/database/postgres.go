package database

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

// PoolConfig holds connection pool limits. The pool is kept deliberately
// small: exhaustion queues requests rather than failing them.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetPoolConfig returns pool limits with defaults
func GetPoolConfig() *PoolConfig {
	viper.SetDefault("database.max_open_conns", 3)
	viper.SetDefault("database.max_idle_conns", 1)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &PoolConfig{
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// BuildConnString derives the lib/pq connection string from DATABASE_DSN.
// Both postgres:// URLs and key=value pairs are accepted. Credentials come
// from DB_USER/DB_PASS when the DSN omits them, and TLS trust material from
// DB_CA_CERT / DB_CA_CERT_BASE64 (DB_SSL_INSECURE=true skips verification).
func BuildConnString() (string, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		return "", fmt.Errorf("missing DATABASE_DSN")
	}

	sslOpts, err := sslSettings()
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if !strings.Contains(dsn, "sslmode=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + strings.Join(sslOpts, "&")
		}
		return dsn, nil
	}

	parts := []string{dsn}
	if !strings.Contains(dsn, "user=") {
		if user := strings.TrimSpace(os.Getenv("DB_USER")); user != "" {
			parts = append(parts, "user="+user)
		}
	}
	if !strings.Contains(dsn, "password=") {
		if pass := strings.TrimSpace(os.Getenv("DB_PASS")); pass != "" {
			parts = append(parts, "password="+pass)
		}
	}
	if !strings.Contains(dsn, "sslmode=") {
		for _, opt := range sslOpts {
			parts = append(parts, strings.ReplaceAll(opt, "&", " "))
		}
	}
	return strings.Join(parts, " "), nil
}

// sslSettings maps the CA trust material env values onto lib/pq options.
func sslSettings() ([]string, error) {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_SSL_INSECURE")), "true") {
		return []string{"sslmode=require"}, nil
	}

	ca := os.Getenv("DB_CA_CERT")
	if b64 := strings.TrimSpace(os.Getenv("DB_CA_CERT_BASE64")); b64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_CA_CERT_BASE64: %v", err)
		}
		ca = string(decoded)
	} else if ca != "" {
		// Environments that cannot hold multi-line values ship the PEM
		// with literal "\n" sequences.
		ca = strings.ReplaceAll(ca, `\n`, "\n")
	}

	if ca == "" {
		return []string{"sslmode=require"}, nil
	}

	caFile, err := writeCAFile(ca)
	if err != nil {
		return nil, err
	}
	return []string{"sslmode=verify-full", "sslrootcert=" + caFile}, nil
}

func writeCAFile(pem string) (string, error) {
	path := filepath.Join(os.TempDir(), "db-ca.pem")
	if err := os.WriteFile(path, []byte(pem), 0600); err != nil {
		return "", fmt.Errorf("failed to write CA file: %v", err)
	}
	return path, nil
}

// InitDB initializes the database connection
func InitDB() (*sql.DB, error) {
	connStr, err := BuildConnString()
	if err != nil {
		return nil, err
	}

	config := GetPoolConfig()

	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test connection
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
