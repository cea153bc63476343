// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package cassandra

import (
	"context"
	"errors"
	"time"

	"emperror.dev/emperror"
	"github.com/gocql/gocql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Yugabyte = "yugabyte"

	defaultOpTimeout    = time.Duration(10) * time.Second
	defaultDatabase     = "lookout"
	defaultNumRetries   = 0
	defaultWaitTimeMult = 1
	defaultPingInterval = 5 * time.Second
)

type Config struct {
	// Hosts to  connect to. Must have at least one
	Hosts []string

	// Database aka Keyspace for cassandra
	Database string

	// OpTimeout
	OpTimeout time.Duration

	// SSLRootCert used for enabling tls to the cluster. SSLKey, and SSLCert must also be set.
	SSLRootCert string
	// SSLKey used for enabling tls to the cluster. SSLRootCert, and SSLCert must also be set.
	SSLKey string
	// SSLCert used for enabling tls to the cluster. SSLRootCert, and SSLRootCert must also be set.
	SSLCert string
	// If you want to verify the hostname and server cert (like a wildcard for cass cluster) then you should turn this on
	// This option is basically the inverse of InSecureSkipVerify
	// See InSecureSkipVerify in http://golang.org/pkg/crypto/tls/ for more info
	EnableHostVerification bool

	// Username to authenticate into the cluster. Password must also be provided.
	Username string
	// Password to authenticate into the cluster. Username must also be provided.
	Password string

	// NumRetries for connecting to the db
	NumRetries int

	// WaitTimeMult the amount of time to wait before retrying to connect to the db
	WaitTimeMult time.Duration

	// PingInterval is how often the session is checked.
	PingInterval time.Duration
}

type CassandraClient struct {
	client   dbStore
	config   Config
	logger   *zap.Logger
	measures agentstore.Measures
}

func NewCassandra(config Config, measures agentstore.Measures, lc fx.Lifecycle, logger *zap.Logger) (*CassandraClient, error) {
	client, err := CreateCassandraClient(config, measures, logger)
	if err != nil {
		return nil, err
	}
	ticker := doEvery(client.config.PingInterval, func(_ time.Time) {
		if err := client.Ping(); err != nil {
			logger.Error("ping failed", zap.Error(err))
		}
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			ticker.Stop()
			client.Close()
			return nil
		},
	})
	return client, nil
}

func doEvery(d time.Duration, f func(time.Time)) *time.Ticker {
	ticker := time.NewTicker(d)
	go func() {
		for x := range ticker.C {
			f(x)
		}
	}()
	return ticker
}

func CreateCassandraClient(config Config, measures agentstore.Measures, logger *zap.Logger) (*CassandraClient, error) {
	if len(config.Hosts) == 0 {
		return nil, errors.New("number of hosts must be > 0")
	}

	validateConfig(&config)

	clusterConfig := gocql.NewCluster(config.Hosts...)
	clusterConfig.Consistency = gocql.LocalQuorum
	clusterConfig.Keyspace = config.Database
	clusterConfig.Timeout = config.OpTimeout
	// let retry package handle it
	clusterConfig.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 1}
	// setup ssl
	if config.SSLRootCert != "" && config.SSLCert != "" && config.SSLKey != "" {
		clusterConfig.SslOpts = &gocql.SslOptions{
			CertPath:               config.SSLCert,
			KeyPath:                config.SSLKey,
			CaPath:                 config.SSLRootCert,
			EnableHostVerification: config.EnableHostVerification,
		}
	}
	// setup authentication
	if config.Username != "" && config.Password != "" {
		clusterConfig.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	session, err := connect(clusterConfig, logger)

	// retry if it fails
	waitTime := 1 * time.Second
	for attempt := 0; attempt < config.NumRetries && err != nil; attempt++ {
		time.Sleep(waitTime)
		session, err = connect(clusterConfig, logger)
		waitTime = waitTime * config.WaitTimeMult
	}
	if err != nil {
		return nil, emperror.WrapWith(err, "Connecting to database failed", "hosts", config.Hosts)
	}

	return newCassandraClient(session, config, measures, logger), nil
}

func newCassandraClient(client dbStore, config Config, measures agentstore.Measures, logger *zap.Logger) *CassandraClient {
	validateConfig(&config)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CassandraClient{
		client:   client,
		config:   config,
		logger:   logger,
		measures: measures,
	}
}

func (s *CassandraClient) RegisterAgent(ctx context.Context, agent model.Agent) error {
	err := s.client.RegisterAgent(ctx, agent)
	if errors.Is(err, rowExists) {
		return agentstore.AgentExistsError{ID: agent.ID}
	}
	return err
}

func (s *CassandraClient) FindAgent(ctx context.Context, id model.AgentID) (model.Agent, error) {
	agent, err := s.client.FindAgent(ctx, id)
	if errors.Is(err, noDataResponse) {
		return agent, agentstore.AgentUnknownError{ID: id}
	}
	return agent, err
}

func (s *CassandraClient) UpdateLastHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) error {
	err := s.client.UpdateLastHeartbeat(ctx, id, at, status)
	if errors.Is(err, noDataResponse) {
		return agentstore.AgentUnknownError{ID: id}
	}
	return err
}

func (s *CassandraClient) AppendOnlineLog(ctx context.Context, event model.OnlineEvent) error {
	return s.client.AppendOnlineLog(ctx, event)
}

func (s *CassandraClient) ListAgents(ctx context.Context) ([]model.Agent, error) {
	return s.client.ListAgents(ctx)
}

func (s *CassandraClient) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	return s.client.OnlineLogs(ctx, id, agentstore.NormalizeLimit(limit))
}

func (s *CassandraClient) Close() {
	s.client.Close()
}

// Ping is for pinging the database to verify that the connection is still good.
func (s *CassandraClient) Ping() error {
	labels := prometheus.Labels{agentstore.TypeLabel: agentstore.PingType}
	err := s.client.Ping()
	if err != nil {
		if s.measures.QueryFailureCount != nil {
			s.measures.QueryFailureCount.With(labels).Add(1.0)
		}
		return emperror.WrapWith(err, "Pinging connection failed")
	}
	if s.measures.QuerySuccessCount != nil {
		s.measures.QuerySuccessCount.With(labels).Add(1.0)
	}
	return nil
}

func validateConfig(config *Config) {
	zeroDuration := time.Duration(0) * time.Second

	if config.OpTimeout == zeroDuration {
		config.OpTimeout = defaultOpTimeout
	}

	if config.Database == "" {
		config.Database = defaultDatabase
	}
	if config.NumRetries < 0 {
		config.NumRetries = defaultNumRetries
	}
	if config.WaitTimeMult < 1 {
		config.WaitTimeMult = defaultWaitTimeMult
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
}
