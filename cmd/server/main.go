package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	accountrepo "github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/repository"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/config"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/db"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/server"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms/bulksms"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms/twilio"
	tokenrepo "github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/repository"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/verification/handler"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/verification/service"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	defer database.Close()

	sender := newSender(cfg, log)

	tokens := tokenrepo.NewPostgresRepository(database)
	accounts := accountrepo.NewPostgresRepository(database)

	svc := service.NewService(tokens, accounts, sender, service.Options{
		TokenExpiresIn:        cfg.TokenTTL(),
		HourMaximum:           cfg.HourMaximum,
		DuplicatePhoneAllowed: cfg.DuplicatePhoneAllowed,
		Logger:                log,
	})

	h := handler.New(svc, accounts, cfg.DefaultRegion, cfg.NumberRegexFor, log)
	router := server.NewRouter(h, log)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("HTTP server stopped")
}

func newSender(cfg *config.Config, log *logrus.Logger) sms.Sender {
	switch cfg.SMSProvider {
	case config.ProviderBulkSMS:
		return bulksms.NewClient(cfg.BulkSMSTokenID, cfg.BulkSMSTokenSecret, cfg.BulkSMSBaseURL)
	case config.ProviderTwilio:
		return twilio.NewSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
	default:
		log.Warn("using dev SMS sender; codes are logged, not sent")
		return sms.NewDevSender(log)
	}
}
