// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apistream/streambridge/internal/auth"
	"github.com/apistream/streambridge/internal/broker"
	"github.com/apistream/streambridge/internal/registry"
	"github.com/apistream/streambridge/internal/ws"
	"github.com/apistream/streambridge/pkg/config"
	"github.com/apistream/streambridge/pkg/envelope"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/etc/streambridge/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	verifier := envelope.NewVerifier()
	listeners := registry.New()
	guard := auth.NewGuard(verifier, cfg.Schemas, logger.With("component", "auth"))

	bridge := broker.New(cfg.Broker, verifier, listeners,
		logger.With("component", "broker"))
	server := ws.NewServer(cfg.Server, listeners, guard, verifier, bridge,
		cfg.Schemas, logger.With("component", "ws"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("broker bridge stopped", "error", err)
		}
	}()
	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("websocket server failed", "error", err)
		}
	}()

	logger.Info("stream bridge started", "config", configPath,
		"exchange", cfg.Broker.Exchange, "port", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down stream bridge")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)

	logger.Info("stream bridge stopped")
}
