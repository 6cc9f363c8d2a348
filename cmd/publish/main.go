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

// Command publish signs a message envelope and publishes it to the
// fanout exchange. Mostly useful for exercising a running bridge.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/apistream/streambridge/pkg/config"
	"github.com/apistream/streambridge/pkg/core"
	"github.com/apistream/streambridge/pkg/envelope"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var (
		configPath = flag.String("config", "/etc/streambridge/config.yaml", "path to config file")
		model      = flag.String("model", "coin", "model name")
		id         = flag.String("id", "", "item id (optional)")
		method     = flag.String("method", core.MethodResponse, "envelope method")
		data       = flag.String("data", "{}", "payload data as JSON")
		keyHex     = flag.String("key", "", "hex private key (generated when empty)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	var signer *envelope.Signer
	if *keyHex != "" {
		signer, err = envelope.SignerFromHex(*keyHex)
	} else {
		signer, err = envelope.GenerateSigner()
	}
	if err != nil {
		logger.Error("failed to build signer", "error", err)
		os.Exit(1)
	}

	var payload any
	if err := json.Unmarshal([]byte(*data), &payload); err != nil {
		logger.Error("data is not valid JSON", "error", err)
		os.Exit(1)
	}

	raw, err := signer.Sign(&envelope.Envelope{
		Method:      *method,
		Model:       *model,
		ID:          *id,
		Data:        payload,
		Pubhash:     signer.Address(),
		Permissions: []string{"authenticate"},
	})
	if err != nil {
		logger.Error("failed to sign envelope", "error", err)
		os.Exit(1)
	}

	conn, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		logger.Error("broker dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("channel open failed", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(cfg.Broker.Exchange, cfg.Broker.ExchangeType,
		false, false, false, false, nil); err != nil {
		logger.Error("exchange declare failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Empty routing key: the fanout exchange ignores it.
	err = ch.PublishWithContext(ctx, cfg.Broker.Exchange, "", false, false,
		amqp.Publishing{
			ContentType: "application/jose",
			Body:        raw,
			Timestamp:   time.Now().UTC(),
		})
	if err != nil {
		logger.Error("publish failed", "error", err)
		os.Exit(1)
	}

	logger.Info("published", "exchange", cfg.Broker.Exchange,
		"model", *model, "id", *id, "pubhash", signer.Address())
}
