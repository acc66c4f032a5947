package ca

import (
	"testing"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutosignPolicy(t *testing.T) {

	policy, err := ParseAutosignPolicy([]byte(`
# comment
   # indented comment

myhost.example.com
*.Agents.Example.com
`))
	require.NoError(t, err)
	assert.True(t, policy.Enabled())

	assert.True(t, policy.Allowed("myhost.example.com"))
	assert.True(t, policy.Allowed("MyHost.Example.com"))
	assert.True(t, policy.Allowed("web01.agents.example.com"))
	assert.False(t, policy.Allowed("other.example.com"))
	assert.False(t, policy.Allowed("# comment"))
}

func TestLoadAutosignPolicy(t *testing.T) {

	fs := afero.NewMemMapFs()
	blobs, err := blob.NewFSBlobStore(nil, fs, "")
	require.NoError(t, err)

	policy, err := LoadAutosignPolicy(blobs, "false")
	assert.Nil(t, err)
	assert.False(t, policy.Enabled())
	assert.False(t, policy.Allowed("anything"))

	policy, err = LoadAutosignPolicy(blobs, "true")
	assert.Nil(t, err)
	assert.True(t, policy.Allowed("anything"))

	policy, err = LoadAutosignPolicy(blobs, "/missing.conf")
	assert.Nil(t, err)
	assert.False(t, policy.Enabled())

	_, err = LoadAutosignPolicy(blobs, "relative.conf")
	assert.ErrorIs(t, err, ErrInvalidAutosign)

	_, err = ParseAutosignPolicy([]byte("[bad"))
	assert.ErrorIs(t, err, ErrInvalidAutosign)
}
