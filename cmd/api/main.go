package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medical-records-access/internal/adapters/auth/jwtauth"
	"medical-records-access/internal/adapters/auth/odin"
	"medical-records-access/internal/adapters/directory/gormdir"
	"medical-records-access/internal/adapters/records/recordstore"
	"medical-records-access/internal/adapters/relay/kafkarelay"
	"medical-records-access/internal/adapters/relay/sqsrelay"
	pg "medical-records-access/internal/adapters/storage/postgres"
	"medical-records-access/internal/config"
	"medical-records-access/internal/fanout"
	"medical-records-access/internal/platform/logger"
	"medical-records-access/internal/ports/auth"
	dirport "medical-records-access/internal/ports/directory"
	"medical-records-access/internal/ports/records"
	"medical-records-access/internal/proof"
	"medical-records-access/internal/router"

	"github.com/spf13/cobra"
)

// @title Medical Records Access API
// @version 1.0
// @description Access requests, grants and real-time notifications for medical records.
// @BasePath /
func main() {
	rootCmd := &cobra.Command{
		Use:   "medical-records-access",
		Short: "Access requests & grants for medical records",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP + websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Load(), logger.NewFromEnv())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema (idempotente)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DBDSN == "" {
				return errors.New("DB_DSN is required")
			}
			db, err := pg.Open(cfg.DBDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := pg.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// tokenCmd firma un JWT de desarrollo con JWT_SECRET (para probar /ws y la API).
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			roleRaw, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			role, ok := auth.ParseRole(roleRaw)
			if !ok {
				return fmt.Errorf("unknown role %q", roleRaw)
			}
			v, err := jwtauth.NewVerifier(config.Load().JWTSecret)
			if err != nil {
				return err
			}
			tok, err := v.Sign(auth.Claims{UserID: userID, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("user", "D1", "User id (sub)")
	cmd.Flags().String("role", "doctor", "doctor | patient")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func serve(cfg *config.Config, log logger.Logger) error {
	if !cfg.EnvFileLoaded {
		log.Debug(".env not found, using process environment", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db     *sql.DB
		lookup dirport.Lookup
		err    error
	)
	if cfg.DBDSN != "" {
		db, err = pg.Open(cfg.DBDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		l, err := gormdir.Open(db)
		if err != nil {
			return err
		}
		lookup = l
		log.Info("postgres ledger enabled", nil)
	} else {
		log.Warn("DB_DSN empty, using in-memory ledger", nil)
	}

	verifier, err := buildVerifier(cfg, log)
	if err != nil {
		return err
	}

	var checker records.Checker
	if cfg.RecordsBaseURL != "" {
		rc, err := recordstore.New(recordstore.Config{
			BaseURL: cfg.RecordsBaseURL,
			APIKey:  cfg.RecordsAPIKey,
			Logger:  log,
		})
		if err != nil {
			return err
		}
		checker = rc
	}

	chain, err := proof.Open(cfg.ProofDBPath)
	if err != nil {
		return err
	}
	defer chain.Close()

	hub := fanout.NewHub(fanout.HubOptions{Logger: log})
	hub.AddSink(proof.NewRecorder(chain))

	if len(cfg.KafkaBrokers) > 0 {
		ks, err := kafkarelay.New(kafkarelay.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return err
		}
		defer ks.Close()
		hub.AddSink(ks)
		log.Info("kafka relay enabled", map[string]any{"topic": cfg.KafkaTopic})
	}
	if cfg.SQSQueueURL != "" {
		qs, err := sqsrelay.NewFromEnv(ctx, cfg.SQSQueueURL)
		if err != nil {
			return err
		}
		hub.AddSink(qs)
		log.Info("sqs relay enabled", nil)
	}

	go hub.Run(ctx)

	handler := router.NewRouter(router.Options{
		AuthVerifier:      verifier,
		DB:                db,
		Directory:         lookup,
		Records:           checker,
		Hub:               hub,
		Proof:             chain,
		Logger:            log,
		GrantTTL:          cfg.GrantTTL,
		ReadTimeout:       cfg.ReadTimeout,
		DirectoryCacheTTL: cfg.DirectoryCacheTTL,
		EnableWebsocket:   cfg.EnableWebsocket,
	})

	// sin WriteTimeout: las conexiones /ws son de larga duración
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildVerifier: JWT_SECRET > Odin > nil (modo dev, headers X-Debug-*).
func buildVerifier(cfg *config.Config, log logger.Logger) (auth.AuthVerifier, error) {
	if cfg.JWTSecret != "" {
		v, err := jwtauth.NewVerifier(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	client, err := odin.NewClient(odin.Config{
		BaseURL: cfg.OdinBaseURL,
		APIKey:  cfg.OdinAPIKey,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	if client.IsConfigured() {
		return odin.NewVerifier(client), nil
	}

	log.Warn("no auth verifier configured, accepting X-Debug-User-* headers", nil)
	return nil, nil
}
