package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/scholartrack/foundry-broker/internal/auth"
	"github.com/scholartrack/foundry-broker/internal/broker"
	"github.com/scholartrack/foundry-broker/internal/config"
	"github.com/scholartrack/foundry-broker/internal/credential"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		healthURL := os.Getenv("HEALTHCHECK_URL")
		if healthURL == "" {
			healthURL = "http://localhost:3000/healthz"
		}
		client := &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}}
		resp, err := client.Get(healthURL)
		if err != nil || resp.StatusCode != 200 {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration from TOML file
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		slog.Error("CONFIG_FILE environment variable is required")
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.LogLevel)
	logger := slog.Default()

	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		slog.Warn("TLS certificate verification is disabled")
	}

	// Credential store: file-backed when configured, in-memory otherwise
	var creds credential.Store
	if cfg.CredentialFile != "" {
		store, err := credential.NewFileStore(cfg.CredentialFile)
		if err != nil {
			slog.Error("Failed to open credential file", "path", cfg.CredentialFile, "error", err)
			os.Exit(1)
		}
		creds = store
		slog.Info("Credential store", "backend", "file", "path", cfg.CredentialFile)
	} else {
		creds = credential.NewMemoryStore()
		slog.Info("Credential store", "backend", "memory")
	}

	// Issuer discovery retries inside broker.New, so allow it time
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	b, err := broker.New(ctx, cfg.Foundry, httpClient, logger)
	cancel()
	if err != nil {
		slog.Error("Failed to initialize broker", "error", err)
		os.Exit(1)
	}

	handler := auth.NewHandler(cfg, b, creds, clockwork.NewRealClock(), logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	slog.Info("Foundry client registered", "foundry_url", cfg.Foundry.URL, "client_id", cfg.Foundry.ClientID, "pkce", cfg.Foundry.PKCEEnabled())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		var err error
		if cfg.TLSSelfSigned {
			tlsCert, certErr := generateSelfSignedTLSCert()
			if certErr != nil {
				slog.Error("Failed to generate self-signed TLS certificate", "error", certErr)
				os.Exit(1)
			}
			server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{tlsCert}}
			slog.Info("Listening (TLS, self-signed)", "addr", cfg.ListenAddr)
			err = server.ListenAndServeTLS("", "")
		} else if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			slog.Info("Listening (TLS)", "addr", cfg.ListenAddr)
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			slog.Info("Listening", "addr", cfg.ListenAddr)
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func generateSelfSignedTLSCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate RSA key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}
