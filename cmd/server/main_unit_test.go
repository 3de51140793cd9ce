package main

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gatewayd.backend/internal/config"
	plog "gatewayd.backend/pkg/logger"
)

func withMainHooks(t *testing.T) {
	t.Helper()
	origLoadDotenv := loadDotenv
	origLoadCfg := loadCfg
	origInitLog := initLog
	origOpenDB := openDB
	origGetStdDB := getStdDB
	origDialLease := dialLease
	origRunServer := runServer

	t.Cleanup(func() {
		loadDotenv = origLoadDotenv
		loadCfg = origLoadCfg
		initLog = origInitLog
		openDB = origOpenDB
		getStdDB = origGetStdDB
		dialLease = origDialLease
		runServer = origRunServer
	})
}

func baseTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port: "18080",
			Env:  "development",
		},
		Database: config.DatabaseConfig{
			Host: "localhost", Port: 5432, User: "postgres", Password: "postgres",
			DBName: "gatewayd", SSLMode: "disable",
		},
		Redis: config.RedisConfig{URL: "redis://localhost:6379"},
		JWT: config.JWTConfig{
			Secret: "secret", AccessExpiry: 15 * time.Minute, RefreshExpiry: 24 * time.Hour,
		},
		Pipeline: config.PipelineConfig{
			PollInterval: time.Hour, ConfirmInterval: time.Hour, JanitorInterval: time.Hour,
			DispatchInterval: time.Hour, EventChannelSize: 10, WebhookLeaseBatch: 10,
			WebhookLeaseTTL: 30 * time.Second, WebhookTimeout: time.Second, WebhookMaxRetries: 5,
		},
		Security: config.SecurityConfig{},
	}
}

func sqliteOpenDB(name string) func(string) (*gorm.DB, error) {
	return func(string) (*gorm.DB, error) {
		return gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	}
}

func noLeaseClient(string, string) (*goredis.Client, error) {
	return nil, errors.New("no redis in tests")
}

func TestRunMainProcess_DBOpenError(t *testing.T) {
	withMainHooks(t)
	loadDotenv = func(...string) error { return nil }
	loadCfg = baseTestConfig
	initLog = plog.Init
	openDB = func(string) (*gorm.DB, error) { return nil, errors.New("db open failed") }

	if err := runMainProcess(); err == nil {
		t.Fatal("expected db open error")
	}
}

func TestRunMainProcess_GetStdDBError(t *testing.T) {
	withMainHooks(t)
	loadDotenv = func(...string) error { return nil }
	loadCfg = baseTestConfig
	initLog = plog.Init
	openDB = sqliteOpenDB("main_getstddb_error")
	getStdDB = func(*gorm.DB) (*sql.DB, error) { return nil, errors.New("stddb failed") }

	if err := runMainProcess(); err == nil {
		t.Fatal("expected generic database object error")
	}
}

func TestRunMainProcess_ServerRunError(t *testing.T) {
	withMainHooks(t)
	loadDotenv = func(...string) error { return nil }
	loadCfg = baseTestConfig
	initLog = plog.Init
	openDB = sqliteOpenDB("main_server_run_error")
	dialLease = noLeaseClient
	runServer = func(*gin.Engine, string) error { return errors.New("listen failed") }

	if err := runMainProcess(); err == nil {
		t.Fatal("expected server run error")
	}
}

func TestRunMainProcess_SuccessPath(t *testing.T) {
	withMainHooks(t)
	loadDotenv = func(...string) error { return nil }
	loadCfg = baseTestConfig
	initLog = plog.Init
	openDB = sqliteOpenDB("main_success")
	dialLease = noLeaseClient
	runServer = func(*gin.Engine, string) error { return nil }

	if err := runMainProcess(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunMainProcess_SuccessPathWithDotenvLoadError(t *testing.T) {
	withMainHooks(t)
	loadDotenv = func(...string) error { return errors.New("dotenv missing") }
	loadCfg = baseTestConfig
	initLog = plog.Init
	openDB = sqliteOpenDB("main_success_dotenv_error")
	dialLease = noLeaseClient
	runServer = func(*gin.Engine, string) error { return nil }

	if err := runMainProcess(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunMainProcess_ProductionModeSetsReleaseMode(t *testing.T) {
	withMainHooks(t)
	loadDotenv = func(...string) error { return nil }
	loadCfg = func() *config.Config {
		cfg := baseTestConfig()
		cfg.Server.Env = "production"
		return cfg
	}
	initLog = plog.Init
	openDB = sqliteOpenDB("main_prod_mode")
	dialLease = noLeaseClient
	runServer = func(*gin.Engine, string) error { return nil }

	if err := runMainProcess(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gin.Mode() != gin.ReleaseMode {
		t.Fatalf("expected release mode, got %s", gin.Mode())
	}
}

func TestDefaultOpenDBAndRunServerWrappers_ExecuteBodies(t *testing.T) {
	withMainHooks(t)

	origOpen := openDB
	_, err := origOpen("host=localhost port=-1 user=postgres password=postgres dbname=gatewayd sslmode=disable")
	if err == nil {
		t.Fatal("expected default openDB wrapper to fail on an invalid DSN")
	}

	origRun := runServer
	engine := gin.New()
	if err := origRun(engine, "invalid-port"); err == nil {
		t.Fatal("expected default runServer wrapper to fail on an invalid port")
	}
}
