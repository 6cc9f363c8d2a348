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

package envelope

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/apistream/streambridge/pkg/core"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := signer.Sign(&Envelope{
		Method:      "GET",
		Model:       "coin",
		ID:          "1337",
		Pubhash:     signer.Address(),
		Permissions: []string{"authenticate"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env, err := NewVerifier().Verify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Method != "GET" || env.Model != "coin" || env.ID != "1337" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Pubhash != signer.Address() {
		t.Fatalf("expected pubhash %s, got %s", signer.Address(), env.Pubhash)
	}
	if env.IssuedAt.IsZero() {
		t.Fatal("expected issued-at to be stamped")
	}
}

func TestVerifyMalformed(t *testing.T) {
	_, err := NewVerifier().Verify([]byte("not a jws"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestVerifyMissingKeyID(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Sign without a kid header: the token parses but no identity can
	// be recovered, a protocol failure rather than a bad signature.
	token := jwt.NewWithClaims(methodBitcoin, &claims{
		Data: payloadFields{Method: "ping"},
	})
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = NewVerifier().Verify([]byte(raw))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if errors.Is(err, ErrSignature) {
		t.Fatalf("expected a single error kind, got %v", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := signer.Sign(&Envelope{Method: "ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Replace the signature part wholesale.
	parts := strings.Split(string(raw), ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWS, got %q", raw)
	}
	other, _ := GenerateSigner()
	forged, err := other.Sign(&Envelope{Method: "ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	forgedParts := strings.Split(string(forged), ".")
	tampered := strings.Join([]string{parts[0], parts[1], forgedParts[2]}, ".")

	_, err = NewVerifier().Verify([]byte(tampered))
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestTopics(t *testing.T) {
	env := &Envelope{Model: "coin"}
	if env.Topic() != "coin" {
		t.Fatalf("expected coin, got %s", env.Topic())
	}
	env.ID = "7"
	got := env.Topics()
	if len(got) != 2 || got[0] != "coin" || got[1] != "coin_id_7" {
		t.Fatalf("expected [coin coin_id_7], got %v", got)
	}
	if !reflect.DeepEqual(got, core.Topics(env.Model, env.ID)) {
		t.Fatalf("envelope and core disagree on keys: %v", got)
	}
}
