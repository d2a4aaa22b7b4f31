package config_test

import (
	"testing"
	"time"

	"github.com/okian/podium/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.BaseURL, convey.ShouldEqual, "https://sid-restapi.onrender.com/")
			convey.So(cfg.RequestTimeout, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendFile)
			convey.So(cfg.ScoreAdvance, convey.ShouldEqual, config.AdvanceConfirm)
			convey.So(cfg.TreatProfileFailureAsExpiry, convey.ShouldBeTrue)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with bad fields", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"relative base url", func(c *config.Config) { c.BaseURL = "api/" }},
			{"ftp base url", func(c *config.Config) { c.BaseURL = "ftp://example.com/" }},
			{"zero timeout", func(c *config.Config) { c.RequestTimeout = 0 }},
			{"unknown backend", func(c *config.Config) { c.StoreBackend = "sqlite" }},
			{"empty store path", func(c *config.Config) { c.StorePath = "" }},
			{"unknown advance", func(c *config.Config) { c.ScoreAdvance = "eager" }},
		}
		for _, tc := range cases {
			cfg := config.New()
			tc.mutate(cfg)
			convey.Convey("Then "+tc.name+" is rejected", func() {
				convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
			})
		}
	})
}
