package main

import (
	"log"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"guardcore/internal/auth"
	"guardcore/internal/config"
	"guardcore/internal/guard"
	"guardcore/internal/history"
	"guardcore/internal/httpserver"
	"guardcore/internal/logger"
	"guardcore/internal/models"
	"guardcore/internal/obs"
	"guardcore/internal/ratelimit"
	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()

	if cfg.DatabaseURL == "" {
		lg.Fatalw("DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := db.AutoMigrate(
		&models.Permission{}, &models.Role{}, &models.User{},
		&models.AccessToken{}, &models.Session{}, &models.LoginHistory{},
	); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	seedRBAC(db, lg)
	seedSuperadmin(db, cfg, lg)

	st := store.NewGorm(db)
	registry := guard.NewRegistry(cfg.Guards)
	limiter := ratelimit.New()
	tokens := auth.NewTokenService(st)
	recorder := history.NewRecorder(st, lg)
	defer recorder.Close()

	engine := auth.NewEngine(st, st, tokens, registry, limiter, recorder, cfg.JWTSecret, lg)
	roleEngine := rbac.NewEngine(st, st, lg)

	router := httpserver.NewRouter(httpserver.Deps{
		Cfg:     cfg,
		Store:   st,
		Auth:    engine,
		RBAC:    roleEngine,
		Tokens:  tokens,
		Metrics: obs.Handler(),
		LG:      lg,
	})

	lg.Infow("listening", "port", cfg.HTTPPort)
	if err := http.ListenAndServe(":"+cfg.HTTPPort, router); err != nil {
		log.Fatal(err)
	}
}

var corePermissions = []string{
	rbac.CapViewUsers,
	rbac.CapManageUsers,
	rbac.CapManageRoles,
	rbac.CapManagePermissions,
	rbac.CapViewLoginHistory,
}

var adminPermissions = []string{
	rbac.CapViewUsers,
	rbac.CapManageUsers,
	rbac.CapManageRoles,
	rbac.CapViewLoginHistory,
}

func seedRBAC(db *gorm.DB, lg *zap.SugaredLogger) {
	for _, name := range rbac.CoreRoles {
		db.Exec("INSERT INTO roles(name, guard_name) VALUES (?, 'web') ON CONFLICT DO NOTHING", name)
	}
	for _, name := range corePermissions {
		db.Exec("INSERT INTO permissions(name, guard_name) VALUES (?, 'web') ON CONFLICT DO NOTHING", name)
	}

	var adminRole models.Role
	if err := db.First(&adminRole, "name = ?", guard.RoleAdmin).Error; err != nil {
		lg.Warnw("admin role missing after seed", "error", err)
		return
	}
	var perms []models.Permission
	if err := db.Where("name IN ?", adminPermissions).Find(&perms).Error; err == nil {
		_ = db.Model(&adminRole).Association("Permissions").Replace(perms)
	}
}

func seedSuperadmin(db *gorm.DB, cfg *config.Config, lg *zap.SugaredLogger) {
	var count int64
	db.Model(&models.User{}).Where("LOWER(email) = LOWER(?)", cfg.SeedSuperadminEmail).Count(&count)
	if count > 0 {
		return
	}
	hash, err := auth.HashPassword(cfg.SeedSuperadminPassword)
	if err != nil {
		lg.Fatalw("seed password hash failed", "error", err)
	}
	u := models.User{
		Email:        cfg.SeedSuperadminEmail,
		Username:     "superadmin",
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
	}
	if err := db.Create(&u).Error; err != nil {
		lg.Warnw("seed superadmin failed", "error", err)
		return
	}
	var role models.Role
	if err := db.First(&role, "name = ?", guard.RoleSuperadmin).Error; err == nil {
		_ = db.Model(&u).Association("Roles").Append(&role)
	}
	lg.Infow("seeded default superadmin", "email", cfg.SeedSuperadminEmail)
}
