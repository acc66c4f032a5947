package ca

import "time"

const (
	DefaultCATTL      = 5 * 365 * 24 * time.Hour
	DefaultCRLTTL     = 5 * 365 * 24 * time.Hour
	DefaultBackdate   = 24 * time.Hour
	DefaultCANameFmt  = "Puppet CA: %s"
	DefaultCAPassSize = 20
)

type Config struct {
	Dir                  string        `yaml:"cadir" json:"cadir" mapstructure:"cadir"`
	CACert               string        `yaml:"cacert" json:"cacert" mapstructure:"cacert"`
	CAKey                string        `yaml:"cakey" json:"cakey" mapstructure:"cakey"`
	CACRL                string        `yaml:"cacrl" json:"cacrl" mapstructure:"cacrl"`
	CAPass               string        `yaml:"capass" json:"capass" mapstructure:"capass"`
	Serial               string        `yaml:"serial" json:"serial" mapstructure:"serial"`
	Inventory            string        `yaml:"inventory" json:"inventory" mapstructure:"inventory"`
	CSRDir               string        `yaml:"csrdir" json:"csrdir" mapstructure:"csrdir"`
	SignedDir            string        `yaml:"signeddir" json:"signeddir" mapstructure:"signeddir"`
	TTL                  time.Duration `yaml:"ca-ttl" json:"ca_ttl" mapstructure:"ca-ttl"`
	Name                 string        `yaml:"ca-name" json:"ca_name" mapstructure:"ca-name"`
	Autosign             string        `yaml:"autosign" json:"autosign" mapstructure:"autosign"`
	AllowSubjectAltNames bool          `yaml:"allow-subject-alt-names" json:"allow_subject_alt_names" mapstructure:"allow-subject-alt-names"`
	CRLTTL               time.Duration `yaml:"crl-ttl" json:"crl_ttl" mapstructure:"crl-ttl"`
	// Disables CRL generation and revocation
	DisableCRL bool `yaml:"disable-crl" json:"disable_crl" mapstructure:"disable-crl"`
}

// Fills in the file locations under Dir that were not set explicitly
func (c Config) WithDefaults() Config {
	join := func(value, name string) string {
		if value != "" {
			return value
		}
		return c.Dir + "/" + name
	}
	c.CACert = join(c.CACert, "ca_crt.pem")
	c.CAKey = join(c.CAKey, "ca_key.pem")
	c.CACRL = join(c.CACRL, "ca_crl.pem")
	c.CAPass = join(c.CAPass, "private/ca.pass")
	c.Serial = join(c.Serial, "serial")
	c.Inventory = join(c.Inventory, "inventory.txt")
	c.CSRDir = join(c.CSRDir, "requests")
	c.SignedDir = join(c.SignedDir, "signed")
	if c.TTL == 0 {
		c.TTL = DefaultCATTL
	}
	if c.CRLTTL == 0 {
		c.CRLTTL = DefaultCRLTTL
	}
	if c.Autosign == "" {
		c.Autosign = "false"
	}
	return c
}
