package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"carelink.org/internal/auth"
	"carelink.org/internal/authz"
	"carelink.org/internal/httpapi"
	"carelink.org/internal/obs"
	"carelink.org/internal/patient"
	"carelink.org/internal/session"
	"carelink.org/internal/store/pg"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("CARELINK_PG_DSN")
	if dsn == "" {
		log.Fatal("CARELINK_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	sessions, err := session.NewManager(store.Sessions(), session.NewMemoryCache())
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	var authOpts []auth.ServiceOption
	if raw := os.Getenv("CARELINK_ACCESS_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse CARELINK_ACCESS_TTL: %v", err)
		}
		authOpts = append(authOpts, auth.WithAccessTTL(ttl))
	}
	authSvc, err := auth.NewService(store, sessions, authOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	rbac, err := authz.NewService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	patientStore, err := store.Patients()
	if err != nil {
		log.Fatalf("patient store: %v", err)
	}
	patients, err := patient.NewService(patientStore)
	if err != nil {
		log.Fatalf("patient service: %v", err)
	}

	ready := httpapi.ReadyProbe{DB: store.DB()}
	api, err := httpapi.New(httpapi.Config{
		Ready:    ready,
		Version:  version,
		Auth:     authSvc,
		Sessions: sessions,
		RBAC:     rbac,
		Patients: patients,
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	httpAddr := os.Getenv("CARELINK_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Optional gRPC health endpoint for load balancers.
	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("CARELINK_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(ready).Register(grpcSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	// Periodic sweep of expired-but-active sessions.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := sessions.CleanupExpired(sweepCtx); err != nil {
					log.Printf("session cleanup: %v", err)
				} else if n > 0 {
					log.Printf("session cleanup: invalidated %d expired sessions", n)
				}
			}
		}
	}()

	log.Printf("Starting carelink-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}
