package ca

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {

	testApp := setupTestApp(t)

	response := executeCommand(SetupCmd, []string{})
	assert.Contains(t, response, "Generated the CA certificate for 'Puppet CA: puppet.example.com'")
	assert.Contains(t, response, "Subject:\t\tCN=Puppet CA: puppet.example.com")

	for _, path := range []string{"/ca/ca_crt.pem", "/ca/ca_key.pem", "/ca/ca_crl.pem", "/ca/private/ca.pass"} {
		exists, err := afero.Exists(testApp.Fs, path)
		assert.Nil(t, err)
		assert.True(t, exists, path)
	}

	response = executeCommand(SetupCmd, []string{})
	assert.Contains(t, response, "The CA 'Puppet CA: puppet.example.com' is already set up")
}

func TestCommandsRequireSetup(t *testing.T) {

	setupTestApp(t)

	response := executeCommand(ListCmd, []string{})
	assert.Equal(t, ErrNotSetUp.Error(), response)

	response = executeCommand(SignCmd, []string{"agent.example.com"})
	assert.Equal(t, ErrNotSetUp.Error(), response)
}

func TestSignAndList(t *testing.T) {

	setupTestApp(t)
	t.Cleanup(func() { listAll = false })

	submitTestRequest(t, "agent1.example.com")
	submitTestRequest(t, "agent2.example.com")

	response := executeCommand(ListCmd, []string{})
	assert.Contains(t, response, "  \"agent1.example.com\" (SHA256) ")
	assert.Contains(t, response, "  \"agent2.example.com\" (SHA256) ")

	response = executeCommand(SignCmd, []string{"Agent1.example.com"})
	assert.Contains(t, response, "Signed certificate request for agent1.example.com")

	response = executeCommand(ListCmd, []string{})
	assert.NotContains(t, response, "agent1.example.com")
	assert.Contains(t, response, "agent2.example.com")

	response = executeCommand(ListCmd, []string{"--all"})
	assert.Contains(t, response, "+ \"agent1.example.com\" (SHA256) ")
	assert.Contains(t, response, "  \"agent2.example.com\" (SHA256) ")

	response = executeCommand(RevokeCmd, []string{"agent1.example.com"})
	assert.Contains(t, response, "Revoked certificate for agent1.example.com")

	response = executeCommand(ListCmd, []string{"--all"})
	assert.Contains(t, response, "- \"agent1.example.com\" (SHA256) ")
	assert.Contains(t, response, "(certificate revoked)")
}

func TestSignAll(t *testing.T) {

	setupTestApp(t)
	t.Cleanup(func() { signAll = false })

	submitTestRequest(t, "agent1.example.com")
	submitTestRequest(t, "agent2.example.com")

	response := executeCommand(SignCmd, []string{"--all"})
	assert.Contains(t, response, "Signed certificate request for agent1.example.com")
	assert.Contains(t, response, "Signed certificate request for agent2.example.com")

	response = executeCommand(SignCmd, []string{"--all"})
	assert.Contains(t, response, "No waiting certificate requests to sign")
}

func TestSignRequiresNames(t *testing.T) {

	setupTestApp(t)

	response := executeCommand(SignCmd, []string{})
	assert.Equal(t, "Specify the certnames to sign or --all", response)
}

func TestSignAltNames(t *testing.T) {

	setupTestApp(t)
	t.Cleanup(func() { signAllowDNSAltNames = false })

	submitTestRequest(t, "web.example.com", "www.example.com")

	response := executeCommand(SignCmd, []string{"web.example.com"})
	assert.Equal(t, "Could not sign the certificate requests for: web.example.com", response)

	response = executeCommand(SignCmd, []string{"--allow-dns-alt-names", "web.example.com"})
	assert.Contains(t, response, "Signed certificate request for web.example.com")
}

func TestGenerate(t *testing.T) {

	testApp := setupTestApp(t)
	t.Cleanup(func() { generateDNSAltNames = "" })
	executeCommand(SetupCmd, []string{})

	response := executeCommand(GenerateCmd, []string{"web.example.com", "--dns-alt-names", "www.example.com"})
	assert.Contains(t, response, "Generated key for web.example.com in '/ssl/private_keys/web.example.com.pem'")
	assert.Contains(t, response, "Generated certificate for web.example.com in '/ssl/certs/web.example.com.pem'")

	cert, err := testApp.Certs.LoadClientCert("web.example.com", true)
	assert.Nil(t, err)
	assert.ElementsMatch(t, []string{"web.example.com", "www.example.com"}, cert.DNSNames)

	response = executeCommand(GenerateCmd, []string{"web.example.com"})
	assert.Equal(t, "A Certificate already exists for web.example.com", response)
}

func TestFingerprint(t *testing.T) {

	setupTestApp(t)
	t.Cleanup(func() { fingerprintDigest = "" })

	submitTestRequest(t, "agent.example.com")
	authority, err := loadCA()
	require.NoError(t, err)

	expected, err := authority.Fingerprint("agent.example.com", "SHA256")
	require.NoError(t, err)
	response := executeCommand(FingerprintCmd, []string{"agent.example.com"})
	assert.Equal(t, fmt.Sprintf("agent.example.com (SHA256) %s\n", expected), response)

	expected, err = authority.Fingerprint("agent.example.com", "SHA1")
	require.NoError(t, err)
	response = executeCommand(FingerprintCmd, []string{"--digest", "sha1", "agent.example.com"})
	assert.Equal(t, fmt.Sprintf("agent.example.com (SHA1) %s\n", expected), response)

	response = executeCommand(FingerprintCmd, []string{"unknown.example.com"})
	assert.Equal(t, "Could not find a certificate or csr for unknown.example.com", response)
}

func TestVerify(t *testing.T) {

	setupTestApp(t)

	submitTestRequest(t, "agent.example.com")
	executeCommand(SignCmd, []string{"agent.example.com"})

	response := executeCommand(VerifyCmd, []string{"agent.example.com"})
	assert.Contains(t, response, "Verified certificate for agent.example.com")

	executeCommand(RevokeCmd, []string{"agent.example.com"})
	response = executeCommand(VerifyCmd, []string{"agent.example.com"})
	assert.NotContains(t, response, "Verified")

	response = executeCommand(VerifyCmd, []string{"unknown.example.com"})
	assert.Equal(t, "Could not find a certificate for unknown.example.com", response)
}

func TestClean(t *testing.T) {

	testApp := setupTestApp(t)

	submitTestRequest(t, "agent.example.com")
	executeCommand(SignCmd, []string{"agent.example.com"})
	submitTestRequest(t, "pending.example.com")

	response := executeCommand(CleanCmd, []string{"agent.example.com", "pending.example.com"})
	assert.Contains(t, response, "Revoked certificate for agent.example.com")
	assert.Contains(t, response, "Removed files for agent.example.com")
	assert.Contains(t, response, "Removed files for pending.example.com")
	assert.False(t, strings.Contains(response, "Revoked certificate for pending.example.com"))

	exists, err := afero.Exists(testApp.Fs, "/ca/signed/agent.example.com.pem")
	assert.Nil(t, err)
	assert.False(t, exists)

	// the revocation outlives the removed certificate
	authority, err := loadCA()
	require.NoError(t, err)
	crl, err := authority.CRL()
	assert.Nil(t, err)
	assert.Len(t, crl.RevokedCertificateEntries, 1)

	response = executeCommand(CleanCmd, []string{"agent.example.com"})
	assert.Equal(t, "Could not find files to clean for: agent.example.com", response)
}
