package ca

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCertType   = errors.New("certificate-authority: invalid certificate type")
	ErrNotInitialized    = errors.New("certificate-authority: not initialized")
	ErrInvalidSerial     = errors.New("certificate-authority: invalid serial number file")
	ErrInvalidAutosign   = errors.New("certificate-authority: invalid autosign configuration")
	ErrSerialLockTimeout = errors.New("certificate-authority: timed out waiting for the serial lock")
	ErrCRLLockTimeout    = errors.New("certificate-authority: timed out waiting for the CRL lock")
)

// CertType selects the extensions the factory puts in a certificate
type CertType string

const (
	CertTypeCA            CertType = "ca"
	CertTypeTerminalSubCA CertType = "terminalsubca"
	CertTypeServer        CertType = "server"
	CertTypeOCSP          CertType = "ocsp"
	CertTypeClient        CertType = "client"
)

func ParseCertType(value string) (CertType, error) {
	switch t := CertType(value); t {
	case CertTypeCA, CertTypeTerminalSubCA, CertTypeServer, CertTypeOCSP, CertTypeClient:
		return t, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidCertType, value)
}

// SigningError is returned when a request violates the signing policy
type SigningError struct {
	Host    string
	Message string
}

func (e *SigningError) Error() string {
	return e.Message
}

// ArgumentError is returned for unknown hosts or a CA that is not set up
type ArgumentError struct {
	Message string
	Err     error
}

func (e *ArgumentError) Error() string {
	return e.Message
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

func argumentError(format string, args ...any) error {
	return &ArgumentError{Message: fmt.Sprintf(format, args...)}
}
