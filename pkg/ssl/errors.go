package ssl

import (
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch on what went wrong
// without matching message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMissingLocally
	KindMissingRemotely
	KindTransport
	KindParseFailure
	KindMismatch
	KindTrustFailure
	KindArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingLocally:
		return "missing-locally"
	case KindMissingRemotely:
		return "missing-remotely"
	case KindTransport:
		return "transport"
	case KindParseFailure:
		return "parse-failure"
	case KindMismatch:
		return "mismatch"
	case KindTrustFailure:
		return "trust-failure"
	case KindArgument:
		return "argument"
	default:
		return "unknown"
	}
}

// VerifyCode identifies the chain verification check that failed. The
// numeric values are the ones operators know from the OpenSSL
// command line tools.
type VerifyCode int

const (
	VerifyOK                       VerifyCode = 0
	VerifyUnableToGetIssuerCert    VerifyCode = 2
	VerifyUnableToGetCRL           VerifyCode = 3
	VerifyCertSignatureFailure     VerifyCode = 7
	VerifyCRLSignatureFailure      VerifyCode = 8
	VerifyCertNotYetValid          VerifyCode = 9
	VerifyCertHasExpired           VerifyCode = 10
	VerifyCRLNotYetValid           VerifyCode = 11
	VerifyCRLHasExpired            VerifyCode = 12
	VerifyDepthZeroSelfSigned      VerifyCode = 18
	VerifySelfSignedInChain        VerifyCode = 19
	VerifyUnableToGetIssuerLocally VerifyCode = 20
	VerifyChainTooLong             VerifyCode = 22
	VerifyCertRevoked              VerifyCode = 23
	VerifyInvalidCA                VerifyCode = 24
	VerifyPathLengthExceeded       VerifyCode = 25
	VerifyHostnameMismatch         VerifyCode = 62
)

// Returns the short reason string for the code
func (c VerifyCode) String() string {
	switch c {
	case VerifyOK:
		return "ok"
	case VerifyUnableToGetIssuerCert:
		return "unable to get issuer certificate"
	case VerifyUnableToGetCRL:
		return "unable to get certificate CRL"
	case VerifyCertSignatureFailure:
		return "certificate signature failure"
	case VerifyCRLSignatureFailure:
		return "CRL signature failure"
	case VerifyCertNotYetValid:
		return "certificate is not yet valid"
	case VerifyCertHasExpired:
		return "certificate has expired"
	case VerifyCRLNotYetValid:
		return "CRL is not yet valid"
	case VerifyCRLHasExpired:
		return "CRL has expired"
	case VerifyDepthZeroSelfSigned:
		return "self-signed certificate"
	case VerifySelfSignedInChain:
		return "self-signed certificate in certificate chain"
	case VerifyUnableToGetIssuerLocally:
		return "unable to get local issuer certificate"
	case VerifyCertRevoked:
		return "certificate revoked"
	case VerifyInvalidCA:
		return "invalid CA certificate"
	case VerifyChainTooLong:
		return "certificate chain too long"
	case VerifyPathLengthExceeded:
		return "path length constraint exceeded"
	case VerifyHostnameMismatch:
		return "hostname mismatch"
	default:
		return ""
	}
}

var (
	ErrCACertsMissing    = newError(KindArgument, "CA certs are missing")
	ErrCRLsMissing       = newError(KindArgument, "CRLs are missing")
	ErrPrivateKeyMissing = newError(KindArgument, "Private key is missing")
	ErrClientCertMissing = newError(KindArgument, "Client cert is missing")

	ErrInvalidEncodingPEM = errors.New("ssl: invalid PEM encoding")
	ErrUnsupportedKey     = errors.New("ssl: unsupported private key")
	ErrInvalidCertname    = errors.New("ssl: invalid certname")
	ErrReservedAttribute  = errors.New("ssl: custom attribute uses a reserved extension request OID")
	ErrUnknownShortName   = errors.New("ssl: unknown OID short name")
	ErrInvalidRevocation  = errors.New("ssl: invalid certificate revocation mode")
	ErrInvalidAltName     = errors.New("ssl: invalid subject alternative name")
)

// Error is the error type returned by context construction, chain
// verification and the storage and transport layers built on them. Message
// is the operator facing text.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    VerifyCode
	Cert    *x509.Certificate
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Allows errors.Is to match errors of the same kind and message, which
// is how the package level sentinels are compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewError returns an error of the given kind wrapping cause
func NewError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func newVerifyError(code VerifyCode, cert *x509.Certificate, message string) *Error {
	return &Error{
		Kind:    KindTrustFailure,
		Message: message,
		Code:    code,
		Cert:    cert,
	}
}

// KindOf returns the kind of the first *Error found in the chain
func KindOf(err error) ErrorKind {
	var sslErr *Error
	if errors.As(err, &sslErr) {
		return sslErr.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the verify code of a trust failure, or VerifyOK
func CodeOf(err error) VerifyCode {
	var sslErr *Error
	if errors.As(err, &sslErr) {
		return sslErr.Code
	}
	return VerifyOK
}
