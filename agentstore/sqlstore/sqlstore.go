// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package sqlstore keeps agents in a SQLite database through gorm. It suits
// single node deployments that need state to survive restarts.
package sqlstore

import (
	"context"
	"errors"
	"time"

	"emperror.dev/emperror"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const defaultPath = "lookout.db"

type Config struct {
	// Path is the database file, or ":memory:".
	Path string
}

type agentRow struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	ComputerName  string
	IP            string
	Status        string `gorm:"index"`
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

func (agentRow) TableName() string {
	return "agents"
}

type onlineLogRow struct {
	ID      uint      `gorm:"primaryKey;autoIncrement"`
	AgentID string    `gorm:"index:idx_agent_at"`
	At      time.Time `gorm:"index:idx_agent_at"`
	Status  string
	Reason  string
}

func (onlineLogRow) TableName() string {
	return "agent_online_logs"
}

type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(config Config) (*SQLStore, error) {
	if config.Path == "" {
		config.Path = defaultPath
	}
	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, emperror.WrapWith(err, "failed to open sqlite database", "path", config.Path)
	}
	if err = db.AutoMigrate(&agentRow{}, &onlineLogRow{}); err != nil {
		return nil, emperror.Wrap(err, "failed to migrate sqlite schema")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) RegisterAgent(ctx context.Context, agent model.Agent) error {
	row := toRow(agent)
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return agentstore.AgentExistsError{ID: agent.ID}
	}
	return nil
}

func (s *SQLStore) FindAgent(ctx context.Context, id model.AgentID) (model.Agent, error) {
	var row agentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Agent{}, agentstore.AgentUnknownError{ID: id}
	}
	if err != nil {
		return model.Agent{}, err
	}
	return fromRow(row), nil
}

func (s *SQLStore) UpdateLastHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) error {
	result := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", id.String()).Updates(map[string]interface{}{
		"last_heartbeat": at,
		"status":         string(status),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return agentstore.AgentUnknownError{ID: id}
	}
	return nil
}

func (s *SQLStore) AppendOnlineLog(ctx context.Context, event model.OnlineEvent) error {
	return s.db.WithContext(ctx).Create(&onlineLogRow{
		AgentID: event.AgentID.String(),
		At:      event.At,
		Status:  string(event.Status),
		Reason:  event.Reason,
	}).Error
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var rows []agentRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	agents := make([]model.Agent, 0, len(rows))
	for _, r := range rows {
		agents = append(agents, fromRow(r))
	}
	return agents, nil
}

func (s *SQLStore) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	var rows []onlineLogRow
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", id.String()).
		Order("at DESC").Order("id DESC").
		Limit(agentstore.NormalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]model.OnlineEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, model.OnlineEvent{
			AgentID: model.AgentID(r.AgentID),
			Status:  model.Status(r.Status),
			At:      r.At,
			Reason:  r.Reason,
		})
	}
	return events, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(a model.Agent) agentRow {
	return agentRow{
		ID:            a.ID.String(),
		Name:          a.Name,
		ComputerName:  a.ComputerName,
		IP:            a.IP,
		Status:        string(a.Status),
		LastHeartbeat: a.LastHeartbeat,
		CreatedAt:     a.CreatedAt,
	}
}

func fromRow(r agentRow) model.Agent {
	return model.Agent{
		ID:            model.AgentID(r.ID),
		Name:          r.Name,
		ComputerName:  r.ComputerName,
		IP:            r.IP,
		Status:        model.Status(r.Status),
		LastHeartbeat: r.LastHeartbeat,
		CreatedAt:     r.CreatedAt,
	}
}
