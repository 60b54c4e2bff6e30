package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"gather/config"
	"gather/convo"
	"gather/database"
	"gather/handlers"
	"gather/mutate"
	"gather/notify"
	"gather/presence"
	"gather/push"
	"gather/realtime"
	"gather/receipts"
	"gather/routes"
	"gather/store"
	gsync "gather/sync"
	"gather/views"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var client *mongo.Client
	for attempt := 1; ; attempt++ {
		client, err = database.Connect(cfg.MongoURI)
		if err == nil {
			break
		}
		if attempt == 3 {
			log.Fatal("failed to connect to MongoDB: ", err)
		}
		log.Printf("MongoDB connection attempt %d failed: %v", attempt, err)
		time.Sleep(2 * time.Second)
	}
	defer func() {
		if err := database.Disconnect(client); err != nil {
			log.Printf("disconnect: %v", err)
		}
	}()

	gin.SetMode(cfg.Env)

	st := store.NewMongo(client.Database(cfg.DBName))

	mgr := gsync.NewManager(st)
	ledger := mutate.NewLedger()
	vw := views.New(mgr, ledger)
	coord := mutate.NewCoordinator(st)
	resolver := convo.NewResolver(st)
	dispatcher := notify.NewDispatcher(st, mgr)
	typing := presence.NewTracker(st, presence.DefaultQuietPeriod)
	defer typing.Close()
	rc := receipts.NewTracker(st)
	sender := push.NewSender(st, cfg.VAPIDPublic, cfg.VAPIDSecret)

	hub := realtime.NewHub(vw, typing, rc, resolver)
	go hub.Run()

	h := &handlers.Handlers{
		Store:      st,
		Coord:      coord,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Receipts:   rc,
		Typing:     typing,
		Paginator:  gsync.NewPaginator(st),
		Push:       sender,
		JWTSecret:  cfg.JWTSecret,
	}

	router := routes.Setup(cfg, h, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server running on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
