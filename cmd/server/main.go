package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/shooter51/divestreams-server/internal/config"
	"github.com/shooter51/divestreams-server/internal/database"
	"github.com/shooter51/divestreams-server/internal/handler"
	"github.com/shooter51/divestreams-server/internal/queue"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/router"
	"github.com/shooter51/divestreams-server/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.LockTimeout)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable: response cache and rate limiting disabled")
	}

	store := repository.NewMySQLStore(db)

	var events service.EventPublisher
	if cfg.AMQPURL != "" {
		events = queue.NewPublisher(cfg.AMQPURL)
		if cfg.ConsumerOn {
			go func() {
				if err := queue.StartConsumer(cfg.AMQPURL); err != nil {
					log.Printf("event consumer stopped: %v", err)
				}
			}()
		}
	} else {
		log.Println("no broker configured: reservation events disabled")
	}

	admission := service.NewAdmission(store, events, cfg.LockTimeout)
	lifecycle := service.NewLifecycle(store, events, cfg.LockTimeout)
	capacity := service.NewCapacity(store)

	authHandler := handler.NewAuthHandler(cfg, store)
	availHandler := handler.NewAvailabilityHandler(capacity)
	resHandler := handler.NewReservationHandler(admission, lifecycle, store)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authHandler, store)
	router.RegisterPublic(e, availHandler, resHandler, store, rdb)
	router.RegisterStaff(e, resHandler, store, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
