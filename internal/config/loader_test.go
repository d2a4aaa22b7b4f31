package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/okian/podium/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.BaseURL, convey.ShouldEqual, "https://sid-restapi.onrender.com/")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PODIUM_BASE_URL", "http://localhost:9081/")
			_ = os.Setenv("PODIUM_REQUEST_TIMEOUT", "3s")
			_ = os.Setenv("PODIUM_STORE_BACKEND", "memory")
			_ = os.Setenv("PODIUM_SCORE_ADVANCE", "optimistic")
			_ = os.Setenv("PODIUM_TREAT_PROFILE_FAILURE_AS_EXPIRY", "false")
			_ = os.Setenv("PODIUM_RATE_LIMIT_RPS", "2.5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.BaseURL, convey.ShouldEqual, "http://localhost:9081/")
				convey.So(cfg.RequestTimeout, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendMemory)
				convey.So(cfg.ScoreAdvance, convey.ShouldEqual, config.AdvanceOptimistic)
				convey.So(cfg.TreatProfileFailureAsExpiry, convey.ShouldBeFalse)
				convey.So(cfg.RateLimitRPS, convey.ShouldEqual, 2.5)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
base_url: "http://127.0.0.1:8080/"
store_backend: redis
redis_addr: "10.0.0.5:6379"
redis_db: 3
worker_count: 4
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PODIUM_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.BaseURL, convey.ShouldEqual, "http://127.0.0.1:8080/")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendRedis)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "10.0.0.5:6379")
				convey.So(cfg.RedisDB, convey.ShouldEqual, 3)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
			})
		})

		convey.Convey("When both file and environment variables are set", func() {
			tmpFile := createTempConfigFile("worker_count: 4\nqueue_size: 8\n")
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PODIUM_CONFIG", tmpFile)
			_ = os.Setenv("PODIUM_WORKER_COUNT", "6")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PODIUM_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldWrap, config.ErrLoadConfig)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("PODIUM_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the base url is not absolute", func() {
			_ = os.Setenv("PODIUM_BASE_URL", "not a url")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
				convey.So(err.Error(), convey.ShouldContainSubstring, "base_url")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a numeric variable is not a number", func() {
			_ = os.Setenv("PODIUM_WORKER_COUNT", "many")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"PODIUM_CONFIG",
		"PODIUM_BASE_URL",
		"PODIUM_REQUEST_TIMEOUT",
		"PODIUM_STORE_BACKEND",
		"PODIUM_SCORE_ADVANCE",
		"PODIUM_TREAT_PROFILE_FAILURE_AS_EXPIRY",
		"PODIUM_RATE_LIMIT_RPS",
		"PODIUM_WORKER_COUNT",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "podium-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
