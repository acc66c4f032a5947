package ca

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
)

// AutosignPolicy decides which pending requests are signed without
// operator review
type AutosignPolicy struct {
	all      bool
	patterns []string
}

// Loads the policy for the autosign setting. "true" signs everything,
// "false" nothing, and an absolute path names a file of host patterns. A
// policy file that does not exist signs nothing.
func LoadAutosignPolicy(blobs blob.BlobStorer, setting string) (*AutosignPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "", "false":
		return &AutosignPolicy{}, nil
	case "true":
		return &AutosignPolicy{all: true}, nil
	}
	if !strings.HasPrefix(setting, "/") {
		return nil, fmt.Errorf("%w: The autosign configuration '%s' must be a fully qualified file",
			ErrInvalidAutosign, setting)
	}
	data, err := blobs.Load(setting)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return &AutosignPolicy{}, nil
		}
		return nil, err
	}
	return ParseAutosignPolicy(data)
}

// Parses newline delimited host patterns. Blank lines and lines starting
// with # are ignored.
func ParseAutosignPolicy(data []byte) (*AutosignPolicy, error) {
	policy := &AutosignPolicy{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pattern := strings.ToLower(line)
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("%w: invalid pattern '%s'", ErrInvalidAutosign, line)
		}
		policy.patterns = append(policy.patterns, pattern)
	}
	return policy, scanner.Err()
}

// Enabled reports whether any request could be autosigned
func (p *AutosignPolicy) Enabled() bool {
	return p.all || len(p.patterns) > 0
}

// Allowed reports whether name matches an exact or glob pattern
func (p *AutosignPolicy) Allowed(name string) bool {
	if p.all {
		return true
	}
	name = strings.ToLower(name)
	for _, pattern := range p.patterns {
		if pattern == name {
			return true
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
