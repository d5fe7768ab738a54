package tsslib

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
)

// SchnorrPublicKeySize is the size of a marshalled proof key.
const SchnorrPublicKeySize = 32

// suite is the Ed25519 group used for proof keys.
var suite = edwards25519.NewBlakeSHA256Ed25519()

// SchnorrKeyPair is a proof key pair in marshalled form.
type SchnorrKeyPair struct {
	PrivateKey []byte // PrivateKey is the marshalled scalar
	PublicKey  []byte // PublicKey is the marshalled point
}

// NewSchnorrKeyPair generates a random proof key pair.
func (l *Library) NewSchnorrKeyPair() (SchnorrKeyPair, error) {
	return keyPairFrom(suite.Scalar().Pick(suite.RandomStream()))
}

// SchnorrKeyPairFromSeed derives a proof key pair deterministically from seed.
func (l *Library) SchnorrKeyPairFromSeed(seed []byte) (SchnorrKeyPair, error) {
	return keyPairFrom(suite.Scalar().Pick(suite.XOF(seed)))
}

// keyPairFrom marshals a private scalar and its public point.
func keyPairFrom(priv kyber.Scalar) (SchnorrKeyPair, error) {
	pub := suite.Point().Mul(priv, nil)

	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return SchnorrKeyPair{}, fmt.Errorf("marshal schnorr private key:\n%w", err)
	}

	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return SchnorrKeyPair{}, fmt.Errorf("marshal schnorr public key:\n%w", err)
	}

	return SchnorrKeyPair{PrivateKey: privBytes, PublicKey: pubBytes}, nil
}

// SignSchnorr signs message with a marshalled private key.
func (l *Library) SignSchnorr(message, privateKey []byte) ([]byte, error) {
	priv := suite.Scalar()
	if err := priv.UnmarshalBinary(privateKey); err != nil {
		return nil, fmt.Errorf("%w: schnorr private key: %v", ErrInvalidEncoding, err)
	}

	sig, err := schnorr.Sign(suite, priv, message)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign:\n%w", err)
	}

	return sig, nil
}

// VerifySchnorr checks a signature against a marshalled public key.
func (l *Library) VerifySchnorr(signature, message, publicKey []byte) bool {
	pub := suite.Point()
	if err := pub.UnmarshalBinary(publicKey); err != nil {
		return false
	}

	return schnorr.Verify(suite, pub, message, signature) == nil
}
