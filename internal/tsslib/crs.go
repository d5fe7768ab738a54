package tsslib

import (
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/zeebo/blake3"

	"Tessera/internal/codec"
)

const (
	g1Size = bls12381.SizeOfG1AffineCompressed
	g2Size = bls12381.SizeOfG2AffineCompressed
)

// crs is a powers-of-tau reference string: g1[i] = tau^i * G1 for i in 0..n, g2 = tau * G2.
type crs struct {
	g1 []bls12381.G1Affine // g1 holds n+1 powers, g1[0] is the generator
	g2 bls12381.G2Affine   // g2 is tau in G2
}

// generators returns the affine G1 and G2 generators.
func generators() (bls12381.G1Affine, bls12381.G2Affine) {
	_, _, g1, g2 := bls12381.Generators()
	return g1, g2
}

// encode serializes the CRS as u32 n | (n+1) compressed G1 | compressed G2.
func (c *crs) encode() []byte {
	w := codec.NewWriter(4 + len(c.g1)*g1Size + g2Size)
	w.U32(uint32(len(c.g1) - 1))

	for i := range c.g1 {
		b := c.g1[i].Bytes()
		w.Fixed(b[:])
	}

	b := c.g2.Bytes()
	w.Fixed(b[:])

	return w.Bytes()
}

// decodeCRS parses a CRS produced by encode.
func decodeCRS(data []byte) (*crs, error) {
	r := codec.NewReader(data)

	n := r.Count(g1Size)
	if r.Err() != nil || n == 0 {
		return nil, fmt.Errorf("%w: crs header", ErrInvalidEncoding)
	}

	c := &crs{g1: make([]bls12381.G1Affine, n+1)}

	for i := range c.g1 {
		if _, err := c.g1[i].SetBytes(r.Fixed(g1Size)); err != nil {
			return nil, fmt.Errorf("%w: crs g1[%d]: %v", ErrInvalidEncoding, i, err)
		}
	}

	if _, err := c.g2.SetBytes(r.Fixed(g2Size)); err != nil {
		return nil, fmt.Errorf("%w: crs g2: %v", ErrInvalidEncoding, err)
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	return c, nil
}

// CRSParties returns the number of parties a CRS supports.
func (l *Library) CRSParties(data []byte) (int, error) {
	r := codec.NewReader(data)
	n := r.U32()

	if r.Err() != nil {
		return 0, fmt.Errorf("%w: crs header", ErrInvalidEncoding)
	}

	return int(n), nil
}

// NewCRS returns the trivial reference string for n parties (tau = 1).
func (l *Library) NewCRS(n int) []byte {
	g1, g2 := generators()

	c := &crs{g1: make([]bls12381.G1Affine, n+1), g2: g2}
	for i := range c.g1 {
		c.g1[i] = g1
	}

	return c.encode()
}

// scalarFromEntropy maps entropy to a non-zero scalar.
func scalarFromEntropy(entropy []byte) fr.Element {
	var r fr.Element

	digest := blake3.Sum512(entropy)
	r.SetBytes(digest[:])

	if r.IsZero() {
		r.SetOne()
	}

	return r
}

// UpdateCRS re-randomizes old with a secret derived from entropy.
// It returns the new CRS and a proof of the update ([r]G2).
func (l *Library) UpdateCRS(old, entropy []byte) (newCRS, proof []byte, err error) {
	c, err := decodeCRS(old)
	if err != nil {
		return nil, nil, err
	}

	r := scalarFromEntropy(entropy)

	var rBig, powBig big.Int
	r.BigInt(&rBig)

	pow := r
	for i := 1; i < len(c.g1); i++ {
		pow.BigInt(&powBig)
		c.g1[i].ScalarMultiplication(&c.g1[i], &powBig)
		pow.Mul(&pow, &r)
	}

	c.g2.ScalarMultiplication(&c.g2, &rBig)

	_, g2 := generators()

	var p bls12381.G2Affine
	p.ScalarMultiplication(&g2, &rBig)
	pb := p.Bytes()

	return c.encode(), pb[:], nil
}

// VerifyCRSUpdate checks that next was derived from old by a known secret.
func (l *Library) VerifyCRSUpdate(old, next, proof []byte) bool {
	prev, err := decodeCRS(old)
	if err != nil {
		return false
	}

	cur, err := decodeCRS(next)
	if err != nil || len(cur.g1) != len(prev.g1) {
		return false
	}

	var p bls12381.G2Affine
	if len(proof) != g2Size {
		return false
	}

	if _, err := p.SetBytes(proof); err != nil || p.IsInfinity() {
		return false
	}

	g1, g2 := generators()
	if !cur.g1[0].Equal(&g1) || cur.g1[1].IsInfinity() {
		return false
	}

	// e(cur1, G2) == e(prev1, [r]G2): the first power moved by r.
	if !pairingEqual(&cur.g1[1], &g2, &prev.g1[1], &p) {
		return false
	}

	// e(cur1, G2) == e(G1, cur.g2): G2 carries the same tau.
	if !pairingEqual(&cur.g1[1], &g2, &g1, &cur.g2) {
		return false
	}

	return consecutivePowers(cur)
}

// pairingEqual reports whether e(a, b) == e(c, d).
func pairingEqual(a *bls12381.G1Affine, b *bls12381.G2Affine, c *bls12381.G1Affine, d *bls12381.G2Affine) bool {
	var negC bls12381.G1Affine
	negC.Neg(c)

	ok, err := bls12381.PairingCheck([]bls12381.G1Affine{*a, negC}, []bls12381.G2Affine{*b, *d})

	return err == nil && ok
}

// consecutivePowers checks g1[i+1] = tau * g1[i] for all i with one random linear combination.
func consecutivePowers(c *crs) bool {
	var lhs, rhs bls12381.G1Jac
	var rho fr.Element
	var rhoBig big.Int

	for i := 0; i+1 < len(c.g1); i++ {
		if _, err := rho.SetRandom(); err != nil {
			return false
		}
		rho.BigInt(&rhoBig)

		var hi, lo bls12381.G1Affine
		hi.ScalarMultiplication(&c.g1[i+1], &rhoBig)
		lo.ScalarMultiplication(&c.g1[i], &rhoBig)

		lhs.AddMixed(&hi)
		rhs.AddMixed(&lo)
	}

	var l, r bls12381.G1Affine
	l.FromJacobian(&lhs)
	r.FromJacobian(&rhs)

	_, g2 := generators()

	return pairingEqual(&l, &g2, &r, &c.g2)
}

// crsDigest binds keys to a specific CRS.
func crsDigest(data []byte) [32]byte {
	return blake3.Sum256(data)
}
