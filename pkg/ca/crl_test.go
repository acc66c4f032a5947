package ca

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevokeFailsWhileCRLLocked(t *testing.T) {

	ca, fs := newTestCA(t)
	submitRequest(t, ca, "agent", ssl.RequestOptions{})
	_, err := ca.Sign("agent", SignOptions{})
	require.NoError(t, err)

	lockPath := ca.Config().CACRL + ".lock"
	require.NoError(t, afero.WriteFile(fs, lockPath, []byte("999999"), 0644))

	start := time.Now()
	err = ca.Revoke("agent")
	assert.ErrorIs(t, err, ErrCRLLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), fileLockDelay)

	// the CRL was left alone and the foreign lock is untouched
	crl, err := ca.CRL()
	require.NoError(t, err)
	assert.Empty(t, crl.RevokedCertificateEntries)
	exists, _ := afero.Exists(fs, lockPath)
	assert.True(t, exists)
}

func TestRevokeWaitsForCRLLock(t *testing.T) {

	ca, fs := newTestCA(t)
	submitRequest(t, ca, "agent", ssl.RequestOptions{})
	_, err := ca.Sign("agent", SignOptions{})
	require.NoError(t, err)

	lockPath := ca.Config().CACRL + ".lock"
	require.NoError(t, afero.WriteFile(fs, lockPath, []byte("999999"), 0644))
	go func() {
		time.Sleep(3 * fileLockDelay)
		fs.Remove(lockPath)
	}()

	assert.Nil(t, ca.Revoke("agent"))
	crl, err := ca.CRL()
	require.NoError(t, err)
	assert.Len(t, crl.RevokedCertificateEntries, 1)
}

func TestConcurrentRevokeAcrossInstances(t *testing.T) {

	first, fs := newTestCA(t)
	second := newTestCAWithParams(t, testParams(fs))

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("agent%02d", i)
		submitRequest(t, first, names[i], ssl.RequestOptions{})
		_, err := first.Sign(names[i], SignOptions{})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i, name := range names {
		authority := first
		if i%2 == 1 {
			authority = second
		}
		wg.Add(1)
		go func(authority *CertificateAuthority, name string) {
			defer wg.Done()
			assert.Nil(t, authority.Revoke(name))
		}(authority, name)
	}
	wg.Wait()

	crl, err := first.CRL()
	require.NoError(t, err)
	assert.Len(t, crl.RevokedCertificateEntries, len(names))
	assert.Equal(t, int64(len(names)), crl.Number.Int64())
}
