package db_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/db"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testUser     = "suite224"
	testPassword = "integration-secret"
	testDatabase = "suite224_production"
)

// ConnectTestSuite resolves profiles against a real PostgreSQL container.
type ConnectTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc

	container testcontainers.Container
	host      string
	port      int
}

func TestConnectSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(ConnectTestSuite))
}

func (s *ConnectTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
			"POSTGRES_DB":       testDatabase,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err, "Failed to start PostgreSQL container")
	s.container = container

	s.host, err = container.Host(s.ctx)
	s.Require().NoError(err)
	mapped, err := container.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)
	s.port = mapped.Int()
}

func (s *ConnectTestSuite) TearDownSuite() {
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			s.T().Logf("Failed to terminate container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// productionProfile resolves the production profile the way a deployment
// would: environment tag and secret from the environment only.
func (s *ConnectTestSuite) productionProfile(password string) config.ConnectionProfile {
	t := s.T()
	for _, name := range []string{"NODE_ENV", "SUITE_DB_NAME", "SUITE_DB_USER", "SUITE_DB_PASSWORD_COMMAND", "PGPASSWORD"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv("SUITE_ENV", "production")
	t.Setenv("SUITE_DB_HOST", s.host)
	t.Setenv("SUITE_DB_PORT", strconv.Itoa(s.port))
	t.Setenv("SUITE_DB_SSLMODE", "disable")
	t.Setenv("SUITE_DB_PASSWORD", password)

	path := filepath.Join(t.TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	cfg, err := config.Load(path)
	s.Require().NoError(err)
	profile, err := cfg.ActiveProfile()
	s.Require().NoError(err)
	s.Require().Equal(config.Production, profile.Environment)
	return profile
}

func (s *ConnectTestSuite) TestConnectBindsToProfileDatabase() {
	profile := s.productionProfile(testPassword)

	conn, err := db.Connect(s.ctx, profile)
	s.Require().NoError(err)
	defer conn.Close(context.Background())

	s.Equal(profile.Database, conn.Database())

	name, err := conn.CurrentDatabase(s.ctx)
	s.Require().NoError(err)
	s.Equal(testDatabase, name)

	version, err := conn.ServerVersion(s.ctx)
	s.Require().NoError(err)
	s.NotEmpty(version)
}

func (s *ConnectTestSuite) TestWrongPasswordIsAuthError() {
	profile := s.productionProfile("not-the-password")

	_, err := db.Connect(s.ctx, profile)
	var connErr *db.ConnectionError
	s.Require().True(errors.As(err, &connErr), "expected *ConnectionError, got %T: %v", err, err)
	s.Equal(db.KindAuth, connErr.Kind)
}

func (s *ConnectTestSuite) TestPoolAgainstServer() {
	profile := s.productionProfile(testPassword)

	pool, err := db.NewPool(profile, db.PoolOptions{MaxConnections: 2, QueueTimeout: 5 * time.Second})
	s.Require().NoError(err)
	defer pool.Close()

	s.Require().NoError(pool.Ping(s.ctx))

	leases := make([]*db.Lease, 0, 2)
	for i := 0; i < 2; i++ {
		lease, err := pool.Acquire(s.ctx)
		s.Require().NoError(err)
		leases = append(leases, lease)
	}

	var backends int
	err = leases[0].Conn().QueryRow(s.ctx,
		"SELECT count(*) FROM pg_stat_activity WHERE datname = $1 AND application_name = $2",
		profile.Database, profile.ApplicationName,
	).Scan(&backends)
	s.Require().NoError(err)
	s.Equal(2, backends)

	short, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(short)
	var exhausted *db.PoolExhaustedError
	s.ErrorAs(err, &exhausted)

	for _, lease := range leases {
		lease.Release()
	}

	stat := pool.Stat()
	s.Equal(2, stat.TotalConns)
	s.Equal(2, stat.IdleConns)
	s.Equal(0, stat.InUse)
}
