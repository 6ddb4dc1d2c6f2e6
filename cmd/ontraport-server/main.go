package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/vcto/ontraport-adapter/internal/middleware"
	"github.com/vcto/ontraport-adapter/internal/ontraport"
	"github.com/vcto/ontraport-adapter/internal/trace"
)

const (
	serverName    = "ontraport-server"
	serverVersion = "1.0.0"
)

func main() {
	recorder, err := trace.Open(traceConfigFromEnv())
	if err != nil {
		log.Printf("Warning: failed to initialize trace recorder: %v", err)
		recorder = trace.NoOp{}
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Printf("Failed to close trace recorder: %v", err)
		}
	}()

	client, err := ontraport.NewClient(ontraport.Config{
		AppID:   os.Getenv("ONTRAPORT_APP_ID"),
		APIKey:  os.Getenv("ONTRAPORT_API_KEY"),
		BaseURL: os.Getenv("ONTRAPORT_BASE_URL"),
	})
	if err != nil {
		log.Fatal("Ontraport: API credentials required (ONTRAPORT_APP_ID, ONTRAPORT_API_KEY)")
	}
	client.SetRecorder(recorder)

	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	log.Println("Ontraport: registering tools")
	handler := ontraport.NewHandler(client)
	handler.SetupTools(s)

	if os.Getenv("PORT") != "" {
		runHTTPServer(s)
	} else {
		if err := server.ServeStdio(s); err != nil {
			log.Fatalf("Server error: %v\n", err)
		}
	}
}

func traceConfigFromEnv() trace.Config {
	enabled := os.Getenv("ONTRAPORT_TRACE")
	if enabled != "true" && enabled != "1" {
		return trace.Config{}
	}

	maxMB := 100
	if v, err := strconv.Atoi(os.Getenv("ONTRAPORT_TRACE_MAX_MB")); err == nil && v > 0 {
		maxMB = v
	}
	retention := 24
	if v, err := strconv.Atoi(os.Getenv("ONTRAPORT_TRACE_RETENTION_H")); err == nil && v >= 0 {
		retention = v
	}

	return trace.Config{
		Enabled:    true,
		Path:       os.Getenv("ONTRAPORT_TRACE_PATH"),
		MaxFileMB:  maxMB,
		RetentionH: retention,
	}
}

func runHTTPServer(mcpServer *server.MCPServer) {
	port := os.Getenv("PORT")

	streamableServer := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithStateLess(true),
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/mcp", streamableServer)
	mux.Handle("/mcp/", streamableServer)

	corsConfig := middleware.DefaultCORSConfig()
	if allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); allowedOrigins != "" {
		corsConfig.AllowOrigins = append(corsConfig.AllowOrigins, strings.Split(allowedOrigins, ",")...)
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: middleware.CORS(corsConfig)(mux),
	}

	log.Printf("Starting Ontraport MCP server on port %s", port)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalf("Server error: %v", err)
	case <-quit:
		log.Println("Shutting down Ontraport server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Ontraport server stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"status":    "healthy",
		"server":    serverName,
		"transport": "StreamableHTTP",
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode health response: %v", err)
	}
}
