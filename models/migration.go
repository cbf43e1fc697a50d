package models

import (
	"log"

	"bitbucket.org/mmdatafocus/shipments_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Demand{}, &DemandPosition{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
