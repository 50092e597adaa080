package scylla

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/util"
)

// PreparedStatements holds the statements the repositories execute on
// every request path.
type PreparedStatements struct {
	CreateOTP            *gocql.Query
	LatestOTPByPhone     *gocql.Query
	RecentOTPByPhone     *gocql.Query
	MarkOTPVerified      *gocql.Query
	CreateRefreshToken   *gocql.Query
	RefreshTokensByUser  *gocql.Query
	CreateUser           *gocql.Query
	CreateUserByPhone    *gocql.Query
	GetUserByID          *gocql.Query
	GetUserIDByPhone     *gocql.Query
	CompleteUserProfile  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateOTP = s.Session.Query(`
        INSERT INTO otp_codes (phone_number, created_at, id, otp_code, verified, attempts, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.LatestOTPByPhone = s.Session.Query(`
        SELECT id, phone_number, otp_code, verified, attempts, created_at, expires_at
        FROM otp_codes WHERE phone_number = ?`)

	prepared.RecentOTPByPhone = s.Session.Query(`
        SELECT created_at FROM otp_codes WHERE phone_number = ? AND created_at >= ? LIMIT 1`)

	prepared.MarkOTPVerified = s.Session.Query(`
        UPDATE otp_codes SET verified = true
        WHERE phone_number = ? AND created_at = ? AND id = ?`)

	prepared.CreateRefreshToken = s.Session.Query(`
        INSERT INTO refresh_tokens (user_id, id, token_hash, revoked, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.RefreshTokensByUser = s.Session.Query(`
        SELECT id, user_id, token_hash, revoked, created_at, expires_at
        FROM refresh_tokens WHERE user_id = ?`)

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (id, phone_number, full_name, address, postal_code, birthday,
            role, profile_completed, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateUserByPhone = s.Session.Query(`
        INSERT INTO users_by_phone (phone_number, user_id, created_at)
        VALUES (?, ?, ?)`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT id, phone_number, full_name, address, postal_code, birthday,
            role, profile_completed, created_at, updated_at
        FROM users WHERE id = ?`)

	prepared.GetUserIDByPhone = s.Session.Query(`
        SELECT user_id FROM users_by_phone WHERE phone_number = ?`)

	prepared.CompleteUserProfile = s.Session.Query(`
        UPDATE users SET full_name = ?, address = ?, postal_code = ?, birthday = ?,
            profile_completed = true, updated_at = ?
        WHERE id = ?`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

// ExecuteBatch runs a logged batch so multi-table writes land
// atomically or not at all.
func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		if err = s.Session.ExecuteBatch(batch); err == nil {
			return nil
		}
		if attempt < 2 {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

// ExecuteWithRetry executes a write query with bounded retries on
// transient errors.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = query.Exec(); err == nil {
			return nil
		}
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

// ScanWithRetry scans a single row with bounded retries. Not-found is
// returned immediately, it is not a transient condition.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		if err = query.Scan(dest...); err == nil || err == gocql.ErrNotFound {
			return err
		}
		if attempt < 2 {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

func (s *ScyllaClient) HealthCheck() error {
	return s.Session.Query(`SELECT now() FROM system.local`).Exec()
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
	}
}
