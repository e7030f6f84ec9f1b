package models

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SOSRequest{},
		&Cancellation{},
		&Attendant{},
		&Assignment{},
		&Notification{},
		&Call{},
		&CallParticipant{},
		&CallActivity{},
	)
}
