package agent

import (
	"testing"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ca"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequestAutosigned(t *testing.T) {

	testApp, _ := setupTestApp(t, "true")

	response := executeCommand(SubmitRequestCmd, []string{})
	assert.Contains(t, response, "Submitted certificate request for 'agent.example.com' to "+testApp.Settings.CAURL)
	assert.Contains(t, response, "Downloaded certificate for agent.example.com from "+testApp.Settings.CAURL)

	cert, err := testApp.Certs.LoadClientCert(TEST_CERTNAME, false)
	assert.Nil(t, err)
	assert.NotNil(t, cert)

	// the pending request is removed once the certificate is saved
	exists, err := afero.Exists(testApp.Fs, testApp.Settings.HostCSR)
	assert.Nil(t, err)
	assert.False(t, exists)
}

func TestSubmitRequestPending(t *testing.T) {

	testApp, authority := setupTestApp(t, "false")

	response := executeCommand(SubmitRequestCmd, []string{})
	assert.Contains(t, response, "Submitted certificate request")
	assert.Contains(t, response, "The certificate for 'agent.example.com' has not yet been signed")

	waiting, err := authority.Waiting()
	assert.Nil(t, err)
	assert.Equal(t, []string{TEST_CERTNAME}, waiting)

	exists, err := afero.Exists(testApp.Fs, testApp.Settings.HostCSR)
	assert.Nil(t, err)
	assert.True(t, exists)

	// the CA already holds a request for the host
	response = executeCommand(SubmitRequestCmd, []string{})
	assert.Equal(t, "Could not submit certificate request for 'agent.example.com' to "+
		testApp.Settings.CAURL+" due to a conflict on the server", response)
}

func TestDownloadCert(t *testing.T) {

	_, authority := setupTestApp(t, "false")

	executeCommand(SubmitRequestCmd, []string{})

	response := executeCommand(DownloadCertCmd, []string{})
	assert.Equal(t, "The certificate for 'agent.example.com' has not yet been signed", response)

	_, err := authority.Sign(TEST_CERTNAME, ca.SignOptions{})
	require.NoError(t, err)

	response = executeCommand(DownloadCertCmd, []string{})
	assert.Contains(t, response, "Downloaded certificate for agent.example.com")
}

func TestGenerateRequest(t *testing.T) {

	testApp, authority := setupTestApp(t, "true")

	response := executeCommand(GenerateRequestCmd, []string{})
	assert.Contains(t, response, "Generated certificate request in '/ssl/certificate_requests/agent.example.com.pem'")

	csr, err := testApp.Certs.LoadRequest(TEST_CERTNAME)
	assert.Nil(t, err)
	assert.Equal(t, TEST_CERTNAME, csr.Subject.CommonName)

	key, err := testApp.Certs.LoadPrivateKey(TEST_CERTNAME, true, nil)
	assert.Nil(t, err)
	assert.True(t, ssl.KeyMatches(csr.PublicKey, key))

	// nothing was sent to the CA
	waiting, err := authority.Waiting()
	assert.Nil(t, err)
	assert.Empty(t, waiting)
}

func TestBootstrapAndVerify(t *testing.T) {

	setupTestApp(t, "true")

	response := executeCommand(VerifyCmd, []string{})
	assert.NotContains(t, response, "Verified")

	response = executeCommand(BootstrapCmd, []string{})
	assert.Contains(t, response, "Completed SSL initialization for agent.example.com")
	assert.Contains(t, response, "Subject:\t\tCN=agent.example.com")

	response = executeCommand(VerifyCmd, []string{})
	assert.Contains(t, response, "Verified CA certificate 'CN=Puppet CA: agent.example.com' fingerprint ")
	assert.Contains(t, response, "Verified client certificate 'CN=agent.example.com' fingerprint ")
}

func TestClean(t *testing.T) {

	testApp, _ := setupTestApp(t, "true")

	executeCommand(BootstrapCmd, []string{})

	response := executeCommand(CleanCmd, []string{})
	assert.Contains(t, response, "Removed /ssl/private_keys/agent.example.com.pem")
	assert.Contains(t, response, "Removed /ssl/certs/agent.example.com.pem")
	assert.Contains(t, response, "Removed /ssl/crl.pem")
	assert.NotContains(t, response, "Removed /ssl/certs/ca.pem")

	exists, err := afero.Exists(testApp.Fs, testApp.Settings.LocalCACert)
	assert.Nil(t, err)
	assert.True(t, exists)
}

func TestShow(t *testing.T) {

	setupTestApp(t, "true")
	t.Cleanup(func() { showPEM = false })

	response := executeCommand(ShowCmd, []string{})
	assert.Equal(t, "The certificate for 'agent.example.com' has not been downloaded", response)

	executeCommand(BootstrapCmd, []string{})

	response = executeCommand(ShowCmd, []string{})
	assert.Contains(t, response, "Issuer:\t\t\tCN=Puppet CA: agent.example.com")

	response = executeCommand(ShowCmd, []string{"--pem"})
	assert.Contains(t, response, "-----BEGIN CERTIFICATE-----")
}

func TestShowConfig(t *testing.T) {

	setupTestApp(t, "true")

	response := executeCommand(ShowConfigCmd, []string{})
	assert.Contains(t, response, "certname: agent.example.com\n")
	assert.Contains(t, response, "ssldir: /ssl\n")
}
