package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Migrate creates the tables used by the access service when they do not
// exist yet.  dialect is "mysql" or "sqlite".
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	stmts := mysqlSchema
	if dialect == "sqlite" {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "schema statement %d", i+1)
		}
	}
	return nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
        id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
        title VARCHAR(255) NOT NULL,
        created_at DATETIME NOT NULL
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS qr_codes (
        id CHAR(36) NOT NULL PRIMARY KEY,
        token VARCHAR(191) NOT NULL,
        status ENUM('new','active','blocked') NOT NULL DEFAULT 'new',
        product_id BIGINT UNSIGNED NULL,
        max_reactivations INT NOT NULL DEFAULT 999,
        registered_at DATETIME NULL,
        cooldown_until DATETIME NULL,
        created_at DATETIME NOT NULL,
        UNIQUE KEY uq_qr_token (token),
        CONSTRAINT fk_qr_product FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE SET NULL
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS devices (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        account_id VARCHAR(64) NULL,
        ua_hash CHAR(64) NOT NULL,
        created_at DATETIME NOT NULL
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS qr_bindings (
        qr_id CHAR(36) NOT NULL,
        device_id VARCHAR(64) NOT NULL,
        account_id VARCHAR(64) NULL,
        active TINYINT(1) NOT NULL DEFAULT 1,
        created_at DATETIME NOT NULL,
        revoked_at DATETIME NULL,
        PRIMARY KEY (qr_id, device_id),
        KEY idx_binding_qr_active (qr_id, active),
        CONSTRAINT fk_binding_qr FOREIGN KEY (qr_id) REFERENCES qr_codes(id) ON DELETE CASCADE,
        CONSTRAINT fk_binding_device FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS listening_progress (
        qr_id CHAR(36) NOT NULL,
        device_id VARCHAR(64) NOT NULL,
        track_id VARCHAR(191) NOT NULL,
        account_id VARCHAR(64) NULL,
        position_ms BIGINT NOT NULL,
        updated_at DATETIME NOT NULL,
        PRIMARY KEY (qr_id, device_id, track_id),
        KEY idx_progress_updated_at (updated_at),
        CONSTRAINT fk_progress_qr FOREIGN KEY (qr_id) REFERENCES qr_codes(id) ON DELETE CASCADE
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        created_at DATETIME NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS qr_codes (
        id TEXT NOT NULL PRIMARY KEY,
        token TEXT NOT NULL UNIQUE,
        status TEXT NOT NULL DEFAULT 'new' CHECK (status IN ('new','active','blocked')),
        product_id INTEGER NULL REFERENCES products(id) ON DELETE SET NULL,
        max_reactivations INTEGER NOT NULL DEFAULT 999,
        registered_at DATETIME NULL,
        cooldown_until DATETIME NULL,
        created_at DATETIME NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS devices (
        id TEXT NOT NULL PRIMARY KEY,
        account_id TEXT NULL,
        ua_hash TEXT NOT NULL,
        created_at DATETIME NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS qr_bindings (
        qr_id TEXT NOT NULL REFERENCES qr_codes(id) ON DELETE CASCADE,
        device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
        account_id TEXT NULL,
        active INTEGER NOT NULL DEFAULT 1,
        created_at DATETIME NOT NULL,
        revoked_at DATETIME NULL,
        PRIMARY KEY (qr_id, device_id)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_binding_qr_active ON qr_bindings (qr_id, active)`,
	`CREATE TABLE IF NOT EXISTS listening_progress (
        qr_id TEXT NOT NULL REFERENCES qr_codes(id) ON DELETE CASCADE,
        device_id TEXT NOT NULL,
        track_id TEXT NOT NULL,
        account_id TEXT NULL,
        position_ms INTEGER NOT NULL,
        updated_at DATETIME NOT NULL,
        PRIMARY KEY (qr_id, device_id, track_id)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_progress_updated_at ON listening_progress (updated_at)`,
}
