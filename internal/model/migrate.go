package model

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate runs GORM auto-migration for all models and installs the
// trigger that publishes config changes on channel.
func AutoMigrate(db *gorm.DB, channel string) error {
	if err := db.AutoMigrate(
		&User{},
		&Location{},
		&ActivityLog{},
		&ConfigRecord{},
	); err != nil {
		return err
	}

	if err := db.Exec(`
CREATE OR REPLACE FUNCTION farmgate_notify_config_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify(TG_ARGV[0], json_build_object('op', lower(TG_OP), 'id', OLD.id)::text);
		RETURN OLD;
	END IF;
	PERFORM pg_notify(TG_ARGV[0], json_build_object('op', lower(TG_OP), 'id', NEW.id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`).Error; err != nil {
		return err
	}

	if err := db.Exec("DROP TRIGGER IF EXISTS configs_notify ON configs").Error; err != nil {
		return err
	}

	// channel is validated against an identifier pattern by config.Validate.
	return db.Exec(fmt.Sprintf(
		"CREATE TRIGGER configs_notify AFTER INSERT OR UPDATE OR DELETE ON configs "+
			"FOR EACH ROW EXECUTE FUNCTION farmgate_notify_config_change('%s')", channel,
	)).Error
}
