package ssl

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"
)

// CSRAttributes is the content of the csr_attributes.yaml file
type CSRAttributes struct {
	CustomAttributes  map[string]any `yaml:"custom_attributes"`
	ExtensionRequests map[string]any `yaml:"extension_requests"`
}

// ParseCSRAttributes parses csr_attributes.yaml content
func ParseCSRAttributes(data []byte) (*CSRAttributes, error) {
	attrs := &CSRAttributes{}
	if err := yaml.Unmarshal(data, attrs); err != nil {
		return nil, fmt.Errorf("ssl: invalid csr attributes: %w", err)
	}
	return attrs, nil
}

// RequestOptions controls the content of a generated CSR
type RequestOptions struct {
	DNSAltNames []string
	Attributes  *CSRAttributes
	AutoRenew   bool
}

// SplitAltNames parses the comma separated dns_alt_names setting
func SplitAltNames(value string) []string {
	names := lo.Map(strings.Split(value, ","), func(name string, _ int) string {
		return strings.TrimSpace(name)
	})
	return lo.Filter(names, func(name string, _ int) bool {
		return name != ""
	})
}

// CreateRequest builds and signs a CSR for name using the private key
func CreateRequest(
	signer *Signer,
	name string,
	key crypto.Signer,
	opts RequestOptions) (*x509.CertificateRequest, error) {

	if err := ValidateCertname(name); err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: name},
	}

	if len(opts.DNSAltNames) > 0 {
		dnsNames := []string{name}
		for _, n := range opts.DNSAltNames {
			n = strings.TrimSpace(n)
			if value, ok := strings.CutPrefix(n, "IP:"); ok {
				ip := net.ParseIP(strings.TrimSpace(value))
				if ip == nil {
					return nil, fmt.Errorf("%w: %s", ErrInvalidAltName, n)
				}
				template.IPAddresses = append(template.IPAddresses, ip)
				continue
			}
			dnsNames = append(dnsNames, strings.TrimPrefix(n, "DNS:"))
		}
		template.DNSNames = lo.Uniq(dnsNames)
		sort.Strings(template.DNSNames)
	}

	attributes := map[string]any{}
	if opts.Attributes != nil {
		for oid, value := range opts.Attributes.CustomAttributes {
			attributes[oid] = value
		}
		for oid, value := range opts.Attributes.ExtensionRequests {
			id, err := ParseOID(oid)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", err, oid)
			}
			der, err := EncodeUTF8String(fmt.Sprint(value))
			if err != nil {
				return nil, err
			}
			template.ExtraExtensions = append(template.ExtraExtensions,
				pkix.Extension{Id: id, Value: der})
		}
	}
	if opts.AutoRenew {
		attributes[OIDAuthAutoRenew.String()] = "true"
	}

	keys := lo.Keys(attributes)
	sort.Strings(keys)
	for _, oid := range keys {
		id, err := ParseOID(oid)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, oid)
		}
		if id.Equal(OIDExtensionRequest) || id.Equal(OIDMSExtensionReq) {
			return nil, fmt.Errorf("%w: %s", ErrReservedAttribute, oid)
		}
		template.Attributes = append(template.Attributes, pkix.AttributeTypeAndValueSET{
			Type: id,
			Value: [][]pkix.AttributeTypeAndValue{
				{{Type: id, Value: fmt.Sprint(attributes[oid])}},
			},
		})
	}

	return signer.SignRequest(template, key)
}

// VerifyRequest checks that the CSR was signed by the private key that
// corresponds to pub
func VerifyRequest(csr *x509.CertificateRequest, pub crypto.PublicKey) error {
	if err := csr.CheckSignature(); err != nil || !publicKeysEqual(csr.PublicKey, pub) {
		return newError(KindMismatch, "The CSR for host '%s' does not match the public key",
			csr.Subject.String())
	}
	return nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	p, ok := a.(equaler)
	return ok && p.Equal(b)
}

func altNames(dns []string, ips []net.IP, emails []string, uris []*url.URL) []string {
	names := lo.Map(dns, func(n string, _ int) string { return "DNS:" + n })
	names = append(names, lo.Map(ips, func(ip net.IP, _ int) string { return "IP Address:" + ip.String() })...)
	names = append(names, lo.Map(emails, func(e string, _ int) string { return "email:" + e })...)
	names = append(names, lo.Map(uris, func(u *url.URL, _ int) string { return "URI:" + u.String() })...)
	return names
}
