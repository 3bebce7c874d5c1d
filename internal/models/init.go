package models

import (
	"strings"

	"github.com/credit-ledger/internal/logger"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultAdminPassword = "admin123"

// InitDefaultAdmin 无管理员时创建默认超级管理员
func InitDefaultAdmin(db *gorm.DB, username, password string) error {
	var count int64
	if err := db.Model(&Admin{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = defaultAdminPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := db.Create(&Admin{Username: username, PasswordHash: string(hash), IsSuper: true}).Error; err != nil {
		return err
	}
	if password == defaultAdminPassword {
		logger.Warnw("default_admin_created_with_default_password", "username", username)
	} else {
		logger.Infow("default_admin_created", "username", username)
	}
	return nil
}

// UpsertPlans 同步套餐目录，按 plan_id 覆盖
func UpsertPlans(db *gorm.DB, plans []Plan) error {
	if len(plans) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "plan_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "interval", "interval_count", "price", "currency",
			"credits_amount", "credits_valid_days", "is_active", "updated_at",
		}),
	}).Create(&plans).Error
}
