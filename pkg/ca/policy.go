package ca

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/samber/lo"
)

// Checks csr against the internal signing rules. Only subjectAltName and
// the puppet arcs may be requested, wildcards are refused, and alternate
// names must be DNS names that the caller allowed.
func CheckSigningPolicy(hostname string, csr *x509.CertificateRequest, allowDNSAltNames bool) error {
	unknown := lo.FilterMap(csr.Extensions, func(ext pkix.Extension, _ int) (string, bool) {
		if ext.Id.Equal(ssl.OIDSubjectAltName) || ssl.InPuppetArc(ext.Id) {
			return "", false
		}
		return ext.Id.String(), true
	})
	if len(unknown) > 0 {
		names := lo.Uniq(unknown)
		sort.Strings(names)
		return &SigningError{Host: hostname, Message: "CSR has request extensions that are not permitted: " +
			strings.Join(names, ", ")}
	}

	subject := csr.Subject.String()
	if strings.Contains(subject, "*") {
		return &SigningError{Host: hostname, Message: "CSR subject contains a wildcard, which is not allowed: " +
			subject}
	}

	altNames := ssl.RequestAltNames(csr)
	if len(altNames) == 0 {
		return nil
	}
	name := ssl.RequestName(csr)
	joined := strings.Join(altNames, ", ")
	if !allowDNSAltNames {
		return &SigningError{Host: hostname, Message: "CSR '" + name + "' contains subject alternative names (" +
			joined + "), which are disallowed. Use `puppet-ssl ca sign --allow-dns-alt-names " + name +
			"` to sign this request."}
	}
	if !lo.EveryBy(altNames, func(n string) bool { return strings.HasPrefix(n, "DNS:") }) {
		return &SigningError{Host: hostname, Message: "CSR '" + name +
			"' contains a subjectAltName outside the DNS label space: " + joined +
			".  To continue, this CSR needs to be cleaned."}
	}
	if lo.SomeBy(altNames, func(n string) bool { return strings.Contains(n, "*") }) {
		return &SigningError{Host: hostname, Message: "CSR '" + name +
			"' subjectAltName contains a wildcard, which is not allowed: " + joined +
			"  To continue, this CSR needs to be cleaned."}
	}
	return nil
}
