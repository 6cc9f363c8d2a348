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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Signer holds a secp256k1 key and produces signed envelopes. Used by
// the publisher tool and by tests; the bridge itself only verifies.
type Signer struct {
	key  *btcec.PrivateKey
	addr string
}

func NewSigner(key *btcec.PrivateKey) (*Signer, error) {
	addr, err := AddressFor(key.PubKey())
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}
	return &Signer{key: key, addr: addr}, nil
}

func GenerateSigner() (*Signer, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSigner(key)
}

// SignerFromHex builds a signer from a hex-encoded 32-byte private key.
func SignerFromHex(s string) (*Signer, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return NewSigner(key)
}

// Address returns the signer's base58 address, also its pubhash value.
func (s *Signer) Address() string { return s.addr }

// Sign serializes env into a compact JWS signed by this key. A zero
// IssuedAt is stamped with the current time.
func (s *Signer) Sign(env *Envelope) ([]byte, error) {
	iat := env.IssuedAt
	if iat.IsZero() {
		iat = time.Now()
	}
	c := claims{
		Data: payloadFields{
			Method:      env.Method,
			Model:       env.Model,
			ID:          json.Number(env.ID),
			Data:        env.Data,
			Pubhash:     env.Pubhash,
			Permissions: env.Permissions,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(iat),
		},
	}
	token := jwt.NewWithClaims(methodBitcoin, &c)
	token.Header["kid"] = s.addr
	signed, err := token.SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}
	return []byte(signed), nil
}
