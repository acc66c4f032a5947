package ssl

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"math/big"
	"slices"
	"time"
)

// Chains deeper than this are rejected with VerifyChainTooLong
const maxChainDepth = 16

// CertStatus describes the certificate being checked when a verification
// step completes or fails. Depth is 0 for the leaf.
type CertStatus struct {
	Cert  *x509.Certificate
	CRL   *x509.RevocationList
	Depth int
	Code  VerifyCode
	Err   *Error
}

// VerifyCallback is consulted after each check. ok is false when the
// check failed, in which case returning true overrides the failure and
// verification continues. Returning false from a successful check aborts
// verification with status.Err.
type VerifyCallback func(ok bool, status *CertStatus) bool

// chainVerifier resolves and checks a certificate chain against a set of
// trusted CA certificates and CRLs
type chainVerifier struct {
	trusted    []*x509.Certificate
	untrusted  []*x509.Certificate
	crls       []*x509.RevocationList
	revocation RevocationMode
	now        time.Time
	callback   VerifyCallback
}

func selfIssued(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubject, cert.RawIssuer)
}

func sameCert(a, b *x509.Certificate) bool {
	return bytes.Equal(a.Raw, b.Raw)
}

func containsCert(certs []*x509.Certificate, cert *x509.Certificate) bool {
	return slices.ContainsFunc(certs, func(c *x509.Certificate) bool {
		return sameCert(c, cert)
	})
}

// issuerOf returns the certificate that issued cert. Subject and issuer
// names must match, and key identifiers when both are present. A
// candidate whose public key verifies the signature is preferred.
func (v *chainVerifier) issuerOf(cert *x509.Certificate) *x509.Certificate {
	var match *x509.Certificate
	for _, pool := range [][]*x509.Certificate{v.trusted, v.untrusted} {
		for _, candidate := range pool {
			if sameCert(candidate, cert) || !bytes.Equal(candidate.RawSubject, cert.RawIssuer) {
				continue
			}
			if len(cert.AuthorityKeyId) > 0 && len(candidate.SubjectKeyId) > 0 &&
				!bytes.Equal(cert.AuthorityKeyId, candidate.SubjectKeyId) {
				continue
			}
			if checkSignature(cert, candidate) == nil {
				return candidate
			}
			if match == nil {
				match = candidate
			}
		}
	}
	return match
}

// checkSignature verifies the signature of cert with the issuer's public
// key without the CA flag checks x509.Certificate.CheckSignatureFrom applies,
// those are reported separately as VerifyInvalidCA
func checkSignature(cert, issuer *x509.Certificate) error {
	return issuer.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature)
}

// fail reports a failed check to the callback. It returns nil when the
// callback overrides the failure.
func (v *chainVerifier) fail(status *CertStatus, message string) *Error {
	status.Err = newVerifyError(status.Code, status.Cert, message)
	if v.callback != nil && v.callback(false, status) {
		return nil
	}
	return status.Err
}

// build walks the issuer chain from the leaf. The returned chain is leaf
// first and contains whatever could be resolved when an error is returned.
func (v *chainVerifier) build(leaf *x509.Certificate) ([]*x509.Certificate, *Error) {
	chain := []*x509.Certificate{leaf}
	current := leaf
	for !selfIssued(current) {
		if len(chain) > maxChainDepth {
			status := &CertStatus{Cert: current, Depth: len(chain) - 1, Code: VerifyChainTooLong}
			if err := v.fail(status, fmt.Sprintf("The certificate chain of '%s' is too long",
				Subject(leaf))); err != nil {
				return chain, err
			}
			break
		}
		issuer := v.issuerOf(current)
		if issuer == nil {
			code := VerifyUnableToGetIssuerCert
			message := fmt.Sprintf("The issuer '%s' of certificate '%s' is missing",
				Issuer(current), Subject(current))
			if len(chain) == 1 {
				code = VerifyUnableToGetIssuerLocally
				message = fmt.Sprintf("The issuer '%s' of certificate '%s' cannot be found locally",
					Issuer(current), Subject(current))
			}
			status := &CertStatus{Cert: current, Depth: len(chain) - 1, Code: code}
			if err := v.fail(status, message); err != nil {
				return chain, err
			}
			return chain, nil
		}
		chain = append(chain, issuer)
		current = issuer
	}

	// The anchor must come from the trusted set, not from the peer
	top := chain[len(chain)-1]
	if !containsCert(v.trusted, top) {
		code := VerifySelfSignedInChain
		if len(chain) == 1 {
			code = VerifyDepthZeroSelfSigned
		}
		status := &CertStatus{Cert: top, Depth: len(chain) - 1, Code: code}
		if err := v.fail(status, v.failedMessage(top, code)); err != nil {
			return chain, err
		}
	}
	return chain, nil
}

func (v *chainVerifier) failedMessage(cert *x509.Certificate, code VerifyCode) string {
	return fmt.Sprintf("Certificate '%s' failed verification (%d): %s", Subject(cert), code, code)
}

// issuerAt returns the issuer of chain[depth]; a root issues itself
func issuerAt(chain []*x509.Certificate, depth int) *x509.Certificate {
	if depth+1 < len(chain) {
		return chain[depth+1]
	}
	return chain[depth]
}

// verify resolves the chain of leaf and runs every check on it. The
// chain is returned leaf first.
func (v *chainVerifier) verify(leaf *x509.Certificate) ([]*x509.Certificate, *Error) {
	chain, err := v.build(leaf)
	if err != nil {
		return chain, err
	}
	if !selfIssued(chain[len(chain)-1]) {
		// partial chain, the missing issuer was accepted
		return chain, nil
	}
	for _, check := range []func([]*x509.Certificate) *Error{
		v.checkSignatures,
		v.checkConstraints,
		v.checkValidity,
		v.checkCRLs,
		v.checkRevoked,
	} {
		if err := check(chain); err != nil {
			return chain, err
		}
	}
	if v.callback != nil {
		for depth := len(chain) - 1; depth >= 0; depth-- {
			status := &CertStatus{Cert: chain[depth], Depth: depth, Code: VerifyOK}
			if !v.callback(true, status) {
				if status.Err == nil {
					status.Err = newVerifyError(status.Code, status.Cert,
						v.failedMessage(status.Cert, status.Code))
				}
				return chain, status.Err
			}
		}
	}
	return chain, nil
}

func (v *chainVerifier) checkSignatures(chain []*x509.Certificate) *Error {
	for depth := len(chain) - 1; depth >= 0; depth-- {
		cert := chain[depth]
		if checkSignature(cert, issuerAt(chain, depth)) == nil {
			continue
		}
		status := &CertStatus{Cert: cert, Depth: depth, Code: VerifyCertSignatureFailure}
		if err := v.fail(status, fmt.Sprintf("Invalid signature for certificate '%s'",
			Subject(cert))); err != nil {
			return err
		}
	}
	return nil
}

func (v *chainVerifier) checkConstraints(chain []*x509.Certificate) *Error {
	for depth := 1; depth < len(chain); depth++ {
		cert := chain[depth]
		code := VerifyOK
		switch {
		case !cert.BasicConstraintsValid || !cert.IsCA:
			code = VerifyInvalidCA
		case hasPathLen(cert) && depth-1 > cert.MaxPathLen:
			// depth-1 intermediate CAs sit below this one
			code = VerifyPathLengthExceeded
		}
		if code == VerifyOK {
			continue
		}
		status := &CertStatus{Cert: cert, Depth: depth, Code: code}
		if err := v.fail(status, v.failedMessage(cert, code)); err != nil {
			return err
		}
	}
	return nil
}

func hasPathLen(cert *x509.Certificate) bool {
	return cert.MaxPathLen > 0 || (cert.MaxPathLen == 0 && cert.MaxPathLenZero)
}

func (v *chainVerifier) checkValidity(chain []*x509.Certificate) *Error {
	for depth := len(chain) - 1; depth >= 0; depth-- {
		cert := chain[depth]
		status := &CertStatus{Cert: cert, Depth: depth}
		var message string
		switch {
		case v.now.Before(cert.NotBefore):
			status.Code = VerifyCertNotYetValid
			message = fmt.Sprintf("The certificate '%s' is not yet valid, verify time is synchronized",
				Subject(cert))
		case v.now.After(cert.NotAfter):
			status.Code = VerifyCertHasExpired
			message = fmt.Sprintf("The certificate '%s' has expired, verify time is synchronized",
				Subject(cert))
		default:
			continue
		}
		if err := v.fail(status, message); err != nil {
			return err
		}
	}
	return nil
}

// revocationTargets returns the depths whose CRL is required
func (v *chainVerifier) revocationTargets(chain []*x509.Certificate) []int {
	switch v.revocation {
	case RevocationOff:
		return nil
	case RevocationLeaf:
		return []int{0}
	}
	targets := make([]int, len(chain))
	for i := range chain {
		targets[i] = i
	}
	return targets
}

// crlFor returns the CRL issued by issuer, preferring one whose signature
// verifies and then the most recent
func (v *chainVerifier) crlFor(issuer *x509.Certificate) *x509.RevocationList {
	var best *x509.RevocationList
	bestValid := false
	for _, crl := range v.crls {
		if !bytes.Equal(crl.RawIssuer, issuer.RawSubject) {
			continue
		}
		valid := crl.CheckSignatureFrom(issuer) == nil
		switch {
		case best == nil,
			valid && !bestValid,
			valid == bestValid && crl.ThisUpdate.After(best.ThisUpdate):
			best, bestValid = crl, valid
		}
	}
	return best
}

func (v *chainVerifier) checkCRLs(chain []*x509.Certificate) *Error {
	for _, depth := range v.revocationTargets(chain) {
		cert := chain[depth]
		issuer := issuerAt(chain, depth)
		crl := v.crlFor(issuer)
		status := &CertStatus{Cert: cert, CRL: crl, Depth: depth}
		if crl == nil {
			status.Code = VerifyUnableToGetCRL
			if err := v.fail(status, fmt.Sprintf("The CRL issued by '%s' is missing",
				Issuer(cert))); err != nil {
				return err
			}
			continue
		}
		var message string
		switch {
		case v.now.Before(crl.ThisUpdate):
			status.Code = VerifyCRLNotYetValid
			message = fmt.Sprintf("The CRL issued by '%s' is not yet valid, verify time is synchronized",
				Issuer(cert))
		case !crl.NextUpdate.IsZero() && v.now.After(crl.NextUpdate):
			status.Code = VerifyCRLHasExpired
			message = fmt.Sprintf("The CRL issued by '%s' has expired, verify time is synchronized",
				Issuer(cert))
		}
		if message != "" {
			if err := v.fail(status, message); err != nil {
				return err
			}
		}
		if crl.CheckSignatureFrom(issuer) != nil {
			status = &CertStatus{Cert: cert, CRL: crl, Depth: depth, Code: VerifyCRLSignatureFailure}
			if err := v.fail(status, fmt.Sprintf("Invalid signature for CRL issued by '%s'",
				Issuer(cert))); err != nil {
				return err
			}
		}
	}
	return nil
}

func revokedBy(crl *x509.RevocationList, serial *big.Int) bool {
	return slices.ContainsFunc(crl.RevokedCertificateEntries, func(entry x509.RevocationListEntry) bool {
		return entry.SerialNumber != nil && entry.SerialNumber.Cmp(serial) == 0
	})
}

func (v *chainVerifier) checkRevoked(chain []*x509.Certificate) *Error {
	for _, depth := range v.revocationTargets(chain) {
		cert := chain[depth]
		crl := v.crlFor(issuerAt(chain, depth))
		if crl == nil || !revokedBy(crl, cert.SerialNumber) {
			continue
		}
		status := &CertStatus{Cert: cert, CRL: crl, Depth: depth, Code: VerifyCertRevoked}
		if err := v.fail(status, fmt.Sprintf("Certificate '%s' is revoked", Subject(cert))); err != nil {
			return err
		}
	}
	return nil
}
