package detsig

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/cronokirby/saferith"
)

var subgroupOrder = saferith.ModulusFromBytes(p256.Params().N.Bytes())

// DeterministicNonce implements RFC 6979, but only for P256/SHA256.
func DeterministicNonce(scalar []byte, messageHash [sha256.Size]byte) []byte {
	var asInt saferith.Nat

	// Steps below refer to the steps in RFC 6979 Section 3:
	// https://datatracker.ietf.org/doc/html/rfc6979#section-3
	//
	// Note that since this implementation only supports P256/SHA256:
	// hlen = qlen = 256 bits

	// Step (a), performed by caller: Set messageHash = SHA256(message)

	k := make([]byte, sha256.Size)
	v := make([]byte, sha256.Size)
	for i := 0; i < len(k); i++ {
		// Step (b): Set V = 0x01 0x01 ... 0x01
		v[i] = 0x01
		// Step (c): Set K = 0x00 0x00 ... 0x00
		k[i] = 0x00
	}

	// Set h1 := bits2octets(messageHash) for use in subsequent steps.
	asInt.SetBytes(messageHash[:])
	asInt.Mod(&asInt, subgroupOrder)
	h1 := asInt.Bytes()

	// Step (d): Set K = HMAC_K(V || 0x00 || scalar || h1)
	// Note: the RFC uses "x" to denote the scalar. We've already applied the bits2octets function
	// to h1  above.
	h := hmac.New(sha256.New, k)
	h.Write(v)
	h.Write([]byte{0x00})
	h.Write(scalar[:])
	h.Write(h1)
	k = h.Sum(nil)

	// Step (e): Set V = HMAC_K(V)
	h = hmac.New(sha256.New, k)
	h.Write(v)
	v = h.Sum(nil)

	// Step (f): Set K = HMAC_K(V || 0x01 || scalar || h1)
	h = hmac.New(sha256.New, k)
	h.Write(v)
	h.Write([]byte{0x01})
	h.Write(scalar[:])
	h.Write(h1)
	k = h.Sum(nil)

	// Step (g): V = HMAC_K(V)
	h = hmac.New(sha256.New, k)
	h.Write(v)
	v = h.Sum(nil)

	// Step (h): Loop until a proper value is found for the nonce (referred to as T in the RFC).
	var nonce saferith.Nat
	for {
		// Since hlen = qlen, we do not need a loop for step (h1) and (h2). We can simply set
		// V = HMAC_K(V)
		// ...and use V as the nonce bytes directly. That is, the value for T defined in the RFC is
		// always equal to V.
		h.Reset()
		h.Write(v)
		v = h.Sum(nil)

		// Step (h3): Compute nonce = bits2Int(T) = bits2Int(V)
		nonce.SetBytes(v[:])
		// ... if nonce is in the range [1,q-1], return v as the nonce.
		if _, _, lt := nonce.CmpMod(subgroupOrder); lt == 1 && nonce.EqZero() == 0 {
			return v[:]
		}

		// ... otherwise, compute:
		// K = HMAC_K(V || 0x00)
		h.Reset()
		h.Write(v)
		h.Write([]byte{0x00})
		k = h.Sum(nil)

		// V = HMAC_K(V)
		h = hmac.New(sha256.New, k)
		h.Write(v)
		v = h.Sum(nil)
		// ...and loop until we find a good value for the nonce.
	}
}

// Sign returns the r || s signature of digest under the P-256 private key scalar.
func Sign(scalar []byte, digest [sha256.Size]byte) ([]byte, error) {
	if len(scalar) != ScalarLength {
		return nil, ErrInvalidPrivateKey
	}
	var d saferith.Nat
	d.SetBytes(scalar)
	if _, _, lt := d.CmpMod(subgroupOrder); lt != 1 || d.EqZero() == 1 {
		return nil, ErrInvalidPrivateKey
	}

	nonceBytes := DeterministicNonce(scalar, digest)
	nonce, err := ecdh.P256().NewPrivateKey(nonceBytes)
	if err != nil {
		// Should never happen. DeterministicNonce should only return values in the appropriate
		// range.
		panic(err)
	}
	// The encoded point is 0x04 || X || Y.
	publicNonce := nonce.PublicKey().Bytes()

	// Variables defined as in FIPS 186-4, Section 6.4:
	//   r = x(kG) mod n
	//   s = k^-1 (e + d r) mod n
	var r, e, k, kInverse saferith.Nat
	r.SetBytes(publicNonce[1 : 1+ScalarLength])
	r.Mod(&r, subgroupOrder)
	e.SetBytes(digest[:])
	e.Mod(&e, subgroupOrder)
	k.SetBytes(nonceBytes)
	kInverse.ModInverse(&k, subgroupOrder)

	var dr, sum, s saferith.Nat
	dr.ModMul(&d, &r, subgroupOrder)
	sum.ModAdd(&e, &dr, subgroupOrder)
	s.ModMul(&kInverse, &sum, subgroupOrder)

	// Zero values of r or s occur with negligible probability, but a signature containing one
	// always fails verification.
	if r.EqZero() == 1 || s.EqZero() == 1 {
		return nil, ErrInvalidSignature
	}

	signature := make([]byte, SignatureLength)
	r.FillBytes(signature[:ScalarLength])
	s.FillBytes(signature[ScalarLength:])
	return signature, nil
}
