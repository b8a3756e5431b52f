package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/opengrade/marks-pipeline/internal/config"
	"github.com/opengrade/marks-pipeline/internal/credential"
	"github.com/opengrade/marks-pipeline/internal/ingest"
	"github.com/opengrade/marks-pipeline/internal/logging"
	"github.com/opengrade/marks-pipeline/internal/metrics"
	"github.com/opengrade/marks-pipeline/internal/store"
	"github.com/opengrade/marks-pipeline/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"bucket", cfg.Storage.Bucket,
		"record_store", cfg.Records.Driver,
		"marks_policy", cfg.Ingest.MarksPolicy,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	// Resolve the storage signing identity. The descriptor value itself is
	// never logged.
	conn, err := credential.ParseConnection(cfg.Storage.Connection)
	if err != nil {
		slog.Error("failed to resolve storage connection", "error", err)
		os.Exit(1)
	}

	objects, presigner, err := buildObjectStore(ctx, cfg, conn)
	if err != nil {
		slog.Error("failed to build object store client", "error", err)
		os.Exit(1)
	}

	records, ledger, cleanup, err := buildRecordStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to build record store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	stats := metrics.New()
	issuer := credential.NewIssuer(objects, presigner, cfg.Storage.Bucket, cfg.Storage.CredentialTTL, cfg.Storage.LANAddress)
	processor := ingest.NewProcessor(objects, records, ledger, ingest.MarksPolicy(cfg.Ingest.MarksPolicy), stats)

	server := web.NewServer(issuer, processor, objects, cfg, stats)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// buildObjectStore wires the S3-compatible client and presigner from the
// resolved connection identity.
func buildObjectStore(ctx context.Context, cfg *config.Config, conn credential.Connection) (store.ObjectStore, credential.Presigner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conn.AccountName, conn.AccountKey, ""),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if conn.Endpoint != "" {
			o.BaseEndpoint = aws.String(conn.Endpoint)
			// MinIO and other self-hosted stores route by path, not vhost.
			o.UsePathStyle = true
		}
	})

	objects := store.NewS3ObjectStore(client, cfg.Storage.Bucket)
	presigner := credential.NewS3Presigner(s3.NewPresignClient(client))
	return objects, presigner, nil
}

// buildRecordStore wires the record store and ledger for the configured
// driver. The returned cleanup closes driver resources and is safe to call
// unconditionally.
func buildRecordStore(ctx context.Context, cfg *config.Config) (store.RecordStore, store.Ledger, func(), error) {
	switch cfg.Records.Driver {
	case "postgres":
		poolConfig, err := pgxpool.ParseConfig(cfg.Records.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		poolConfig.MaxConns = int32(cfg.Records.MaxConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := store.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		slog.Info("record store ready", "driver", "postgres")
		return store.NewPostgresRecordStore(pool), store.NewPostgresLedger(pool), pool.Close, nil

	default: // dynamodb, enforced by Config.Validate
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Records.Region),
		}
		if cfg.Records.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.Records.AccessKey, cfg.Records.SecretKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, nil, err
		}

		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Records.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Records.Endpoint)
			}
		})
		slog.Info("record store ready", "driver", "dynamodb",
			"marks_table", cfg.Records.MarksTable,
			"status_table", cfg.Records.StatusTable,
		)
		return store.NewDynamoRecordStore(client, cfg.Records.MarksTable),
			store.NewDynamoLedger(client, cfg.Records.StatusTable),
			func() {}, nil
	}
}
