package gxgbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	postgresNotifyChannelReloadBlocklist = "gxgbot_reload_blocklist"
	postgresNotifyChannelStop            = "gxgbot_stop"
)

var (
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
)

// ModelUnixTime is an embeddable model with Unix-milli timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps a GORM connection for write/update/delete operations.
// When concurrent writes are disabled (SQLite), a mutex serializes all
// writes through this wrapper.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase initializes a new database write wrapper around the
// given GORM connection. enableConcurrentWrites should be false for
// SQLite and true for Postgres.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

func (d *database) withTimeout(ctx context.Context) (
	context.Context,
	context.CancelFunc,
) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	d.Lock()
	defer d.Unlock()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(value any, conds ...any) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()
	rv := d.db.Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	d.Lock()
	defer d.Unlock()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// DBI defines the interface for database write operations. This is here
// primarily to enable mocking of the database operations for testing.
// [database] implements this interface for 'real' DB operations.
type DBI interface {
	Lock()
	Unlock()

	DB() *gorm.DB
	Create(ctx context.Context, value any) (rowsAffected int64, err error)
	Save(ctx context.Context, value any) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	Updates(ctx context.Context, model any, values any) (
		rowsAffected int64,
		err error,
	)
	Delete(value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) error
}

// CreateDB initializes and returns a GORM database connection based on
// the specified database type, and auto-migrates the bot's models.
func CreateDB(ctx context.Context, databaseType string, database string) (
	*gorm.DB,
	error,
) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, DefaultDatabaseSlowThreshold)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	err = txn.Migrator().AutoMigrate(
		&MemberProgress{},
		&BlocklistEntry{},
		&VoiceRoomOwner{},
		&ModerationEntry{},
		&Warning{},
		&ErrorRecord{},
		&ModmailThread{},
	)
	if err != nil {
		return db, err
	}

	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type ('sqlite' or 'postgres').
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// DBNotifier defines the interface for notifying bot instances of
// database changes. When running multiple instances on Postgres,
// LISTEN/NOTIFY announces blocklist changes and stop signals; on
// SQLite there is only ever one instance, so signals are delivered
// directly.
type DBNotifier interface {
	// BlocklistChannelName returns the NOTIFY channel used to announce
	// blocklist changes
	BlocklistChannelName() string

	// ReloadBlocklist announces that the XP blocklist has changed and
	// should be reloaded from the database
	ReloadBlocklist(context.Context) bool

	StopChannelName() string

	// Stop sends a shutdown signal to all bot instances
	Stop(context.Context) bool

	// ID returns the identifier for this notifier. DBNotifier instances
	// should use this ID to filter out their own notifications.
	ID() string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(b *GXGBot) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := b.logger.With(loggerNameKey, "db_notifier")
	switch b.config.DatabaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{
			logger:         log,
			bot:            b,
			sqliteNotifyID: notifyID,
		}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			bot:        b,
			logger:     log,
			pgNotifyID: notifyID,
		}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

type sqliteNotifier struct {
	logger         *slog.Logger
	bot            *GXGBot
	sqliteNotifyID string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (sqliteNotifier) BlocklistChannelName() string {
	return ""
}

func (sqliteNotifier) StopChannelName() string {
	return ""
}

func (s *sqliteNotifier) ID() string {
	return s.sqliteNotifyID
}

func (s *sqliteNotifier) ReloadBlocklist(ctx context.Context) bool {
	s.logger.Info("got blocklist reload notification")
	select {
	case s.bot.triggerBlocklistRefreshCh <- true:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending blocklist refresh signal")
		return false
	}
	return true
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.bot.signalStop <- struct{}{}:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

type postgresNotifier struct {
	bot        *GXGBot
	logger     *slog.Logger
	pgNotifyID string
}

func (postgresNotifier) BlocklistChannelName() string {
	return postgresNotifyChannelReloadBlocklist
}

func (postgresNotifier) StopChannelName() string {
	return postgresNotifyChannelStop
}

func (p *postgresNotifier) ID() string {
	return p.pgNotifyID
}

func (p *postgresNotifier) ReloadBlocklist(ctx context.Context) bool {
	var sent bool

	notifyErr := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.BlocklistChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY to reload blocklist",
			tint.Err(notifyErr),
		)
	} else {
		p.logger.Info("sent blocklist refresh notification", "pg_notify_id", p.ID())
		sent = true
	}

	select {
	case p.bot.triggerBlocklistRefreshCh <- true:
	//
	case <-ctx.Done():
		p.logger.Warn("timeout sending blocklist refresh signal")
	}

	return sent
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	var sent bool

	notifyErr := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.StopChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(ctx, "Error sending NOTIFY to stop bot", tint.Err(notifyErr))
	} else {
		p.logger.Info("sent stop signal", "pg_notify_id", p.ID())
		sent = true
	}

	return sent
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.bot.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "Started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			time.Sleep(5 * time.Second) // Wait before retrying
			continue
		}
		if notification.Payload == p.ID() {
			logger.Info(
				"Received notification from self, ignoring",
				"payload",
				notification.Payload,
			)
			continue
		}

		switch channel {
		case p.BlocklistChannelName():
			logger.InfoContext(ctx, "Received notification to reload blocklist")
			select {
			case p.bot.triggerBlocklistRefreshCh <- true:
				logger.Info("sent blocklist refresh signal from postgres listener")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending blocklist refresh signal")
			}
		case p.StopChannelName():
			logger.InfoContext(ctx, "received stop signal via NOTIFY")
			select {
			case p.bot.signalStop <- struct{}{}:
				logger.Info("forwarded stop signal")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("Received unknown notification", "channel", notification.Channel)
		}
	}

	return nil
}
