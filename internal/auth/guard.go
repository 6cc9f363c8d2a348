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

// Package auth decides whether a client subscribe request is permitted.
// The check is coarse: it validates the model/route/method combination
// against the schema table and the presence of a pubhash where required,
// not ownership of a specific resource instance.
package auth

import (
	"fmt"
	"log/slog"

	"github.com/apistream/streambridge/pkg/core"
	"github.com/apistream/streambridge/pkg/envelope"
	"github.com/apistream/streambridge/pkg/schema"
)

type Guard struct {
	verifier envelope.Verifier
	table    schema.Table
	logger   *slog.Logger
}

func NewGuard(verifier envelope.Verifier, table schema.Table, logger *slog.Logger) *Guard {
	return &Guard{verifier: verifier, table: table, logger: logger}
}

// Allowed verifies the raw message and checks it against the schema
// table. It returns nil when the subscribe request is permitted and an
// error wrapping core.ErrNotAllowed otherwise.
func (g *Guard) Allowed(raw []byte) error {
	env, err := g.verifier.Verify(raw)
	if err != nil {
		g.logger.Debug("authorization verify failed", "error", err)
		return fmt.Errorf("%w: %v", core.ErrNotAllowed, err)
	}

	if !g.table.Has(env.Model) {
		return fmt.Errorf("%w: unknown model %q", core.ErrNotAllowed, env.Model)
	}

	route := schema.RouteCollection
	if env.ID != "" {
		route = schema.RouteItem
	}

	perms, ok := g.table.Permissions(env.Model, route, core.MethodGet)
	if !ok {
		return fmt.Errorf("%w: GET not defined for %s on %s", core.ErrNotAllowed, env.Model, route)
	}

	for _, p := range perms {
		if p == schema.PermissionPubhash && env.Pubhash == "" {
			return fmt.Errorf("%w: pubhash required for %s on %s", core.ErrNotAllowed, env.Model, route)
		}
	}

	g.logger.Debug("subscribe allowed", "model", env.Model, "route", route, "permissions", perms)
	return nil
}
