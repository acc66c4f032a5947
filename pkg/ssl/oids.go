package ssl

import (
	"encoding/asn1"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Private enterprise arc for certificate metadata
var (
	OIDPuppetArc        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 34380, 1}
	OIDRegisteredArc    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 34380, 1, 1}
	OIDPrivateArc       = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 34380, 1, 2}
	OIDAuthorizationArc = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 34380, 1, 3}
	OIDAuthAutoRenew    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 34380, 1, 3, 2}

	OIDSubjectAltName    = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDBasicConstraints  = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDNetscapeComment   = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 13}
	OIDExtensionRequest  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
	OIDMSExtensionReq    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 14}
	OIDChallengePassword = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 7}
)

// Short names for the registered arc, keyed by the last arc component
var registeredNames = map[int]string{
	1:  "pp_uuid",
	2:  "pp_instance_id",
	3:  "pp_image_name",
	4:  "pp_preshared_key",
	5:  "pp_cost_center",
	6:  "pp_product",
	7:  "pp_project",
	8:  "pp_application",
	9:  "pp_service",
	10: "pp_employee",
	11: "pp_created_by",
	12: "pp_environment",
	13: "pp_role",
	14: "pp_software_version",
	15: "pp_department",
	16: "pp_cluster",
	17: "pp_provisioner",
	18: "pp_region",
	19: "pp_datacenter",
	20: "pp_zone",
	21: "pp_network",
	22: "pp_securitypolicy",
	23: "pp_cloudplatform",
	24: "pp_apptier",
	25: "pp_hostname",
	26: "pp_owner",
}

var authorizationNames = map[int]string{
	1:  "pp_authorization",
	2:  "pp_auth_auto_renew",
	13: "pp_auth_role",
}

// ParseOID resolves a dotted OID string or a short name such as pp_uuid
func ParseOID(name string) (asn1.ObjectIdentifier, error) {
	for n, short := range registeredNames {
		if short == name {
			return append(cloneOID(OIDRegisteredArc), n), nil
		}
	}
	for n, short := range authorizationNames {
		if short == name {
			return append(cloneOID(OIDAuthorizationArc), n), nil
		}
	}
	oid := make(asn1.ObjectIdentifier, 0)
	for _, part := range strings.Split(name, ".") {
		n := 0
		if part == "" {
			return nil, ErrUnknownShortName
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return nil, ErrUnknownShortName
			}
			n = n*10 + int(r-'0')
		}
		oid = append(oid, n)
	}
	if len(oid) < 2 {
		return nil, ErrUnknownShortName
	}
	return oid, nil
}

// ShortName returns the registered short name for oid, or its dotted form
func ShortName(oid asn1.ObjectIdentifier) string {
	if len(oid) == len(OIDRegisteredArc)+1 && oid[:len(OIDRegisteredArc)].Equal(OIDRegisteredArc) {
		if name, ok := registeredNames[oid[len(oid)-1]]; ok {
			return name
		}
	}
	if len(oid) == len(OIDAuthorizationArc)+1 && oid[:len(OIDAuthorizationArc)].Equal(OIDAuthorizationArc) {
		if name, ok := authorizationNames[oid[len(oid)-1]]; ok {
			return name
		}
	}
	return oid.String()
}

// InPuppetArc reports whether oid lives under the private enterprise arc
func InPuppetArc(oid asn1.ObjectIdentifier) bool {
	return len(oid) > len(OIDPuppetArc) && oid[:len(OIDPuppetArc)].Equal(OIDPuppetArc)
}

// InArc reports whether oid is a strict descendant of arc
func InArc(oid, arc asn1.ObjectIdentifier) bool {
	return len(oid) > len(arc) && oid[:len(arc)].Equal(arc)
}

func cloneOID(oid asn1.ObjectIdentifier) asn1.ObjectIdentifier {
	c := make(asn1.ObjectIdentifier, len(oid))
	copy(c, oid)
	return c
}

// EncodeUTF8String returns the DER encoding of value as a UTF8String
func EncodeUTF8String(value string) ([]byte, error) {
	return encodeString(cbasn1.UTF8String, value)
}

// EncodeIA5String returns the DER encoding of value as an IA5String
func EncodeIA5String(value string) ([]byte, error) {
	return encodeString(cbasn1.IA5String, value)
}

func encodeString(tag cbasn1.Tag, value string) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(tag, func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(value))
	})
	return b.Bytes()
}

// DecodeString decodes a DER string value. Values that are not one of the
// ASN.1 string types are returned as their raw bytes.
func DecodeString(der []byte) string {
	input := cryptobyte.String(der)
	var out cryptobyte.String
	var tag cbasn1.Tag
	if !input.ReadAnyASN1(&out, &tag) {
		return string(der)
	}
	switch tag {
	case cbasn1.UTF8String, cbasn1.IA5String, cbasn1.PrintableString, cbasn1.T61String:
		return string(out)
	}
	return string(der)
}
