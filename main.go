package main

import (
	"time"

	"billing-app/config"
	"billing-app/database"
	routes "billing-app/internal/app/http"
	"billing-app/internal/domain/accounts"
	"billing-app/internal/domain/billing"
	"billing-app/internal/domain/plans"
	"billing-app/internal/infra/logger"
	"billing-app/internal/infra/mail"
	"billing-app/internal/infra/stripe"
	billingsvc "billing-app/internal/service/billing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()

	log, err := logger.New(logger.Config{
		Level:       config.LOG_LEVEL,
		Format:      config.LOG_FORMAT,
		Environment: config.APP_ENV,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.InitDB(config.DB_URL, log)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	repo := accounts.NewRepository(db)

	var provider billing.Provider
	if config.STRIPE_SECRET_KEY != "" {
		provider = stripe.New(stripe.Config{
			SecretKey: config.STRIPE_SECRET_KEY,
			APIURL:    config.STRIPE_API_URL,
			Logger:    log,
		})
	} else {
		log.Warn("STRIPE_SECRET_KEY not set; billing operations will be rejected")
	}

	svc := billingsvc.New(billingsvc.Options{
		Accounts: repo,
		Provider: provider,
		Catalog:  plans.NewCatalog(config.STRIPE_PRICE_MONTH, config.STRIPE_PRICE_YEAR),
		Mailer: mail.New(mail.Config{
			From:                 config.MAIL_FROM,
			ReplyTo:              config.MAIL_REPLY_TO,
			SMTPHost:             config.SMTP_HOST,
			SMTPPort:             config.SMTP_PORT,
			SMTPUsername:         config.SMTP_USERNAME,
			SMTPPassword:         config.SMTP_PASSWORD,
			PostmarkServerToken:  config.POSTMARK_SERVER_TOKEN,
			PostmarkAccountToken: config.POSTMARK_ACCOUNT_TOKEN,
		}, log),
		Logger: log,
		AppURL: config.APP_URL,
	})

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(log))

	// CORS before routes
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		Billing:       svc,
		Events:        svc,
		Accounts:      repo,
		JWTSecret:     config.JWT_SECRET,
		WebhookSecret: config.STRIPE_WEBHOOK_SECRET,
		Logger:        log,
	})

	log.Info("listening", zap.String("port", config.PORT))
	if err := r.Run(":" + config.PORT); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
