package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/certstore"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	Name = "puppet-ssl"

	DefaultConfigDir         = "/etc/puppetlabs/puppet"
	DefaultSSLDir            = "/etc/puppetlabs/puppet/ssl"
	DefaultCADir             = "/etc/puppetlabs/puppetserver/ca"
	DefaultServer            = "puppet"
	DefaultCAPort            = 8140
	DefaultCAListen          = ":8140"
	DefaultWaitForCert       = 2 * time.Minute
	DefaultMaxWaitForLock    = time.Minute
	DefaultRefreshInterval   = 24 * time.Hour
	DefaultRenewalInterval   = 30 * 24 * time.Hour
	DefaultCSRAttributesFile = "csr_attributes.yaml"
	DefaultRevocation        = "chain"
)

var (
	ErrInvalidKeyType = errors.New("config: key-type must be rsa or ec")
	ErrInvalidDigest  = errors.New("config: unsupported digest")
)

// Policy holds the clock tolerances of certificate issuance and CRL checks
type Policy struct {
	// Subtracted from the not-before time of issued certificates
	NotBeforeBackdate time.Duration `yaml:"not-before-backdate" json:"not_before_backdate" mapstructure:"not-before-backdate"`
	// How far in the future a CRL's this-update may be
	CRLClockSkew time.Duration `yaml:"crl-clock-skew" json:"crl_clock_skew" mapstructure:"crl-clock-skew"`
}

// Settings is the agent and CA configuration
type Settings struct {
	ConfigDir string `yaml:"config-dir" json:"config_dir" mapstructure:"config-dir"`
	Debug     bool   `yaml:"debug" json:"debug" mapstructure:"debug"`
	LogFile   string `yaml:"log-file" json:"log_file" mapstructure:"log-file"`

	Certname string `yaml:"certname" json:"certname" mapstructure:"certname"`
	Server   string `yaml:"server" json:"server" mapstructure:"server"`
	CAServer string `yaml:"ca-server" json:"ca_server" mapstructure:"ca-server"`
	CAPort   int    `yaml:"ca-port" json:"ca_port" mapstructure:"ca-port"`
	// Full base URL of the CA service, overrides ca-server and ca-port
	CAURL string `yaml:"ca-url" json:"ca_url" mapstructure:"ca-url"`

	SSLDir          string `yaml:"ssldir" json:"ssldir" mapstructure:"ssldir"`
	CertDir         string `yaml:"certdir" json:"certdir" mapstructure:"certdir"`
	PrivateKeyDir   string `yaml:"privatekeydir" json:"privatekeydir" mapstructure:"privatekeydir"`
	RequestDir      string `yaml:"requestdir" json:"requestdir" mapstructure:"requestdir"`
	LocalCACert     string `yaml:"localcacert" json:"localcacert" mapstructure:"localcacert"`
	HostCRL         string `yaml:"hostcrl" json:"hostcrl" mapstructure:"hostcrl"`
	HostPrivKey     string `yaml:"hostprivkey" json:"hostprivkey" mapstructure:"hostprivkey"`
	HostCert        string `yaml:"hostcert" json:"hostcert" mapstructure:"hostcert"`
	HostCSR         string `yaml:"hostcsr" json:"hostcsr" mapstructure:"hostcsr"`
	PassFile        string `yaml:"passfile" json:"passfile" mapstructure:"passfile"`
	SSLLockFile     string `yaml:"ssl-lockfile" json:"ssl_lockfile" mapstructure:"ssl-lockfile"`
	SSLTrustStore   string `yaml:"ssl-trust-store" json:"ssl_trust_store" mapstructure:"ssl-trust-store"`
	SSLClientCAAuth string `yaml:"ssl-client-ca-auth" json:"ssl_client_ca_auth" mapstructure:"ssl-client-ca-auth"`

	CertificateRevocation string `yaml:"certificate-revocation" json:"certificate_revocation" mapstructure:"certificate-revocation"`

	ssl.KeyParams `yaml:",inline" mapstructure:",squash"`

	DNSAltNames   string `yaml:"dns-alt-names" json:"dns_alt_names" mapstructure:"dns-alt-names"`
	CSRAttributes string `yaml:"csr-attributes" json:"csr_attributes" mapstructure:"csr-attributes"`

	WaitForCert    time.Duration `yaml:"waitforcert" json:"waitforcert" mapstructure:"waitforcert"`
	MaxWaitForCert time.Duration `yaml:"maxwaitforcert" json:"maxwaitforcert" mapstructure:"maxwaitforcert"`
	WaitForLock    time.Duration `yaml:"waitforlock" json:"waitforlock" mapstructure:"waitforlock"`
	MaxWaitForLock time.Duration `yaml:"maxwaitforlock" json:"maxwaitforlock" mapstructure:"maxwaitforlock"`
	OneTime        bool          `yaml:"onetime" json:"onetime" mapstructure:"onetime"`

	CAFingerprint string `yaml:"ca-fingerprint" json:"ca_fingerprint" mapstructure:"ca-fingerprint"`
	Digest        string `yaml:"digest" json:"digest" mapstructure:"digest"`

	CARefreshInterval       time.Duration `yaml:"ca-refresh-interval" json:"ca_refresh_interval" mapstructure:"ca-refresh-interval"`
	CRLRefreshInterval      time.Duration `yaml:"crl-refresh-interval" json:"crl_refresh_interval" mapstructure:"crl-refresh-interval"`
	HostcertRenewalInterval time.Duration `yaml:"hostcert-renewal-interval" json:"hostcert_renewal_interval" mapstructure:"hostcert-renewal-interval"`

	CAListen     string `yaml:"ca-listen" json:"ca_listen" mapstructure:"ca-listen"`
	AllowRenewal bool   `yaml:"allow-renewal" json:"allow_renewal" mapstructure:"allow-renewal"`

	CA     ca.Config `yaml:"ca" json:"ca" mapstructure:"ca"`
	Policy Policy    `yaml:"policy" json:"policy" mapstructure:"policy"`
}

// SetDefaults registers the default of every setting with v. Paths that
// derive from other settings are filled in by Settings.Resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("certname", defaultCertname())
	v.SetDefault("server", DefaultServer)
	v.SetDefault("ca-port", DefaultCAPort)
	v.SetDefault("ssldir", DefaultSSLDir)
	v.SetDefault("certificate-revocation", DefaultRevocation)
	v.SetDefault("key-type", ssl.KeyTypeRSA)
	v.SetDefault("keylength", ssl.DefaultKeyLength)
	v.SetDefault("named-curve", ssl.DefaultNamedCurve)
	v.SetDefault("waitforcert", DefaultWaitForCert)
	v.SetDefault("maxwaitforlock", DefaultMaxWaitForLock)
	v.SetDefault("digest", ssl.DefaultDigest)
	v.SetDefault("ca-refresh-interval", DefaultRefreshInterval)
	v.SetDefault("crl-refresh-interval", DefaultRefreshInterval)
	v.SetDefault("hostcert-renewal-interval", DefaultRenewalInterval)
	v.SetDefault("ca-listen", DefaultCAListen)
	v.SetDefault("allow-renewal", true)
	v.SetDefault("ca.cadir", DefaultCADir)
	v.SetDefault("ca.ca-ttl", ca.DefaultCATTL)
	v.SetDefault("ca.crl-ttl", ca.DefaultCRLTTL)
	v.SetDefault("ca.autosign", "false")
	v.SetDefault("policy.not-before-backdate", ca.DefaultBackdate)
	v.SetDefault("policy.crl-clock-skew", ssl.DefaultCRLClockSkew)
}

// Load reads config.yaml from configDir, the user's home directory or the
// working directory. A missing file is not an error, the defaults and any
// bound flags apply.
func Load(v *viper.Viper, configDir string) (*Settings, error) {
	SetDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(fmt.Sprintf("$HOME/.%s/", Name))
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, err
	}
	if settings.ConfigDir == "" {
		settings.ConfigDir = configDir
	}
	if err := settings.Resolve(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Resolve validates the settings and fills in the file locations that
// derive from ssldir, certname and the config directory
func (s *Settings) Resolve() error {
	s.Certname = strings.ToLower(s.Certname)
	if err := ssl.ValidateCertname(s.Certname); err != nil {
		return err
	}
	if _, err := s.Revocation(); err != nil {
		return err
	}
	if s.KeyParams.Type == "" {
		s.KeyParams.Type = ssl.KeyTypeRSA
	}
	if !strings.EqualFold(s.KeyParams.Type, ssl.KeyTypeRSA) && !strings.EqualFold(s.KeyParams.Type, ssl.KeyTypeEC) {
		return fmt.Errorf("%w: %s", ErrInvalidKeyType, s.KeyParams.Type)
	}
	if s.Digest == "" {
		s.Digest = ssl.DefaultDigest
	}
	if _, err := ssl.Digest(s.Digest, nil); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDigest, s.Digest)
	}

	join := func(value *string, dir, name string) {
		if *value == "" {
			*value = filepath.Join(dir, name)
		}
	}
	if s.SSLDir == "" {
		s.SSLDir = DefaultSSLDir
	}
	join(&s.CertDir, s.SSLDir, "certs")
	join(&s.PrivateKeyDir, s.SSLDir, "private_keys")
	join(&s.RequestDir, s.SSLDir, "certificate_requests")
	join(&s.LocalCACert, s.CertDir, "ca.pem")
	join(&s.HostCRL, s.SSLDir, "crl.pem")
	join(&s.HostPrivKey, s.PrivateKeyDir, s.Certname+".pem")
	join(&s.HostCert, s.CertDir, s.Certname+".pem")
	join(&s.HostCSR, s.RequestDir, s.Certname+".pem")
	join(&s.PassFile, s.SSLDir, "private/password")
	join(&s.SSLLockFile, s.SSLDir, "ssl.lock")
	if s.ConfigDir == "" {
		s.ConfigDir = DefaultConfigDir
	}
	join(&s.CSRAttributes, s.ConfigDir, DefaultCSRAttributesFile)
	if s.CA.Dir == "" {
		s.CA.Dir = DefaultCADir
	}
	if s.Policy.NotBeforeBackdate == 0 {
		s.Policy.NotBeforeBackdate = ca.DefaultBackdate
	}
	if s.Policy.CRLClockSkew == 0 {
		s.Policy.CRLClockSkew = ssl.DefaultCRLClockSkew
	}
	return nil
}

// Revocation parses the certificate-revocation setting
func (s *Settings) Revocation() (ssl.RevocationMode, error) {
	return ssl.ParseRevocationMode(s.CertificateRevocation)
}

// Paths returns the locations of the agent's SSL files
func (s *Settings) Paths() certstore.Paths {
	return certstore.Paths{
		Certname:      s.Certname,
		LocalCACert:   s.LocalCACert,
		HostCRL:       s.HostCRL,
		HostPrivKey:   s.HostPrivKey,
		HostCert:      s.HostCert,
		PrivateKeyDir: s.PrivateKeyDir,
		CertDir:       s.CertDir,
		RequestDir:    s.RequestDir,
		PassFile:      s.PassFile,
	}
}

// ServerURL returns the base URL of the CA service
func (s *Settings) ServerURL() string {
	if s.CAURL != "" {
		return strings.TrimSuffix(s.CAURL, "/")
	}
	host := s.CAServer
	if host == "" {
		host = s.Server
	}
	port := s.CAPort
	if port == 0 {
		port = DefaultCAPort
	}
	return fmt.Sprintf("https://%s:%d", host, port)
}

// AltNames returns the dns-alt-names setting as a list
func (s *Settings) AltNames() []string {
	return ssl.SplitAltNames(s.DNSAltNames)
}

// LoadCSRAttributes parses the csr_attributes.yaml file. It returns nil
// when the file does not exist.
func (s *Settings) LoadCSRAttributes(fs afero.Fs) (*ssl.CSRAttributes, error) {
	if s.CSRAttributes == "" {
		return nil, nil
	}
	data, err := afero.ReadFile(fs, s.CSRAttributes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ssl.ParseCSRAttributes(data)
}

// LoadAuthorizedIssuers reads the ssl-client-ca-auth bundle. It returns
// nil when the setting is empty.
func (s *Settings) LoadAuthorizedIssuers(fs afero.Fs) ([]*x509.Certificate, error) {
	if s.SSLClientCAAuth == "" {
		return nil, nil
	}
	data, err := afero.ReadFile(fs, s.SSLClientCAAuth)
	if err != nil {
		return nil, err
	}
	return ssl.DecodeCertificatesPEM(data)
}

// YAML renders the effective settings
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

func defaultCertname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "localhost"
	}
	return strings.ToLower(hostname)
}
