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

	"trustcore.org/internal/audit"
	"trustcore.org/internal/auth"
	"trustcore.org/internal/httpapi"
	"trustcore.org/internal/lockout"
	"trustcore.org/internal/obs"
	"trustcore.org/internal/rbac"
	"trustcore.org/internal/session"
	"trustcore.org/internal/store/pg"
	"trustcore.org/internal/twofactor"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

const (
	attemptRetention = 30 * 24 * time.Hour
	auditRetention   = 90 * 24 * time.Hour
	sweepInterval    = time.Minute
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("TRUSTCORE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("TRUSTCORE_AUTH_SECRET is required")
	}

	// Durable stores back everything except live sessions when a DSN is
	// configured; otherwise the process runs fully in memory.
	var (
		store        *pg.Store
		principals   auth.PrincipalStore
		attempts     auth.AttemptStore
		rbacStore    rbac.Store
		twofaStore   twofactor.Store
		auditOptions []audit.Option
	)
	if dsn := os.Getenv("TRUSTCORE_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		principals = store.Principals()
		attempts = store.Attempts()
		rbacStore = store.RBAC()
		twofaStore = store.TwoFactor()
		auditOptions = append(auditOptions, audit.WithPersistence(store.Events()))
	} else {
		principals = auth.NewMemoryPrincipals()
		attempts = auth.NewMemoryAttempts()
		rbacStore = rbac.NewMemory()
		twofaStore = twofactor.NewMemoryStore()
	}

	auditLog := audit.NewLog(auditOptions...)
	guard := lockout.NewGuard()
	sessions := session.NewStore(auditLog)
	secondFactor := twofactor.NewService(twofaStore, auditLog, twofactor.WithIssuer("trustcore"))

	authz := rbac.NewEngine(rbacStore, auditLog)
	if err := authz.Bootstrap(context.Background()); err != nil {
		log.Fatalf("bootstrap rbac: %v", err)
	}

	tokens, err := auth.NewTokenIssuer([]byte(secret), "trustcore")
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	engine := auth.NewEngine(principals, attempts, guard, sessions, secondFactor, authz, tokens, auditLog)

	probe := httpapi.ReadyProbe{}
	if store != nil {
		probe.DB = store.DB()
	}
	api := httpapi.New(engine, authz, sessions, secondFactor, auditLog, probe, version)

	addr := os.Getenv("TRUSTCORE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcAddr := os.Getenv("TRUSTCORE_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = ":9090"
	}
	grpcSrv := httpapi.NewGRPCServer(probe)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	// Periodic housekeeping: expired sessions, stale lockout windows,
	// attempt/audit retention, and health refresh.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				sessions.Sweep()
				guard.Sweep()
				auditLog.Prune(time.Now().Add(-auditRetention))
				if _, err := attempts.Prune(sweepCtx, time.Now().Add(-attemptRetention)); err != nil {
					obs.LogRequest(map[string]any{"type": "sweep_error", "error": err.Error()})
				}
				grpcSrv.UpdateHealth(sweepCtx)
			}
		}
	}()

	log.Printf("starting trustcore-api %s on %s (grpc %s)", version, srv.Addr, grpcAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Server.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	grpcSrv.Stop()
	if store != nil {
		_ = store.Close()
	}
	log.Println("stopped")
}
