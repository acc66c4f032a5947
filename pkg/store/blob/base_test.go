package blob

import (
	"testing"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const TEST_ROOT_DIR = "/etc/puppetlabs/puppet/ssl"

func defaultStore(t *testing.T) (BlobStorer, afero.Fs) {
	fs := afero.NewMemMapFs()
	store, err := NewFSBlobStore(logging.DiscardLogger(), fs, TEST_ROOT_DIR)
	require.NoError(t, err)
	return store, fs
}
