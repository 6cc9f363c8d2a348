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
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/golang-jwt/jwt/v5"
)

// Alg is the JWS algorithm name carried in the envelope header.
const Alg = "CUSTOM-BITCOIN-SIGN"

// signingMethodBitcoin signs the SHA-256 of the JWS signing input with a
// compact recoverable secp256k1 signature. Verification recovers the
// public key from the signature and requires its P2PKH address to match
// the expected key id, so possession of the key is the identity.
type signingMethodBitcoin struct{}

var methodBitcoin = &signingMethodBitcoin{}

func init() {
	jwt.RegisterSigningMethod(Alg, func() jwt.SigningMethod { return methodBitcoin })
}

func (m *signingMethodBitcoin) Alg() string { return Alg }

func (m *signingMethodBitcoin) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*btcec.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	return ecdsa.SignCompact(priv, digest[:], true), nil
}

func (m *signingMethodBitcoin) Verify(signingString string, sig []byte, key any) error {
	addr, ok := key.(string)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	got, err := AddressFor(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if got != addr {
		return fmt.Errorf("%w: key id mismatch", ErrSignature)
	}
	return nil
}

// AddressFor derives the base58 P2PKH address of a public key. The
// address is used as the JWS key id and as the pubhash value.
func AddressFor(pub *btcec.PublicKey) (string, error) {
	h := btcutil.Hash160(pub.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(h, &chaincfg.MainNetParams)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
