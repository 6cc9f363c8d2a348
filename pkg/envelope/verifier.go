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
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// BitJWSVerifier verifies compact JWS envelopes self-signed with the
// bitcoin signing method. It is stateless: the key id in the header
// names the identity and the signature proves possession of its key.
type BitJWSVerifier struct{}

func NewVerifier() *BitJWSVerifier { return &BitJWSVerifier{} }

func (v *BitJWSVerifier) Verify(raw []byte) (*Envelope, error) {
	var c claims
	_, err := jwt.ParseWithClaims(string(raw), &c, keyFromHeader,
		jwt.WithValidMethods([]string{Alg}))
	if err != nil {
		if errors.Is(err, ErrMalformed) || errors.Is(err, ErrSignature) {
			return nil, err
		}
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return c.envelope(), nil
}

func keyFromHeader(t *jwt.Token) (any, error) {
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("%w: missing key id", ErrMalformed)
	}
	return kid, nil
}
