package ca

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/store/blob"
)

const inventoryTimeFormat = "2006-01-02T15:04:05UTC"

// Inventory is the append only log of every certificate the CA issued.
// Each line holds the serial, the validity window and the subject.
type Inventory struct {
	blobs blob.BlobStorer
	path  string
	index *InventoryIndex
}

func NewInventory(blobs blob.BlobStorer, path string) *Inventory {
	return &Inventory{
		blobs: blobs,
		path:  path,
		index: &InventoryIndex{},
	}
}

// Formats the inventory line for cert
func InventoryLine(cert *x509.Certificate) string {
	return fmt.Sprintf("0x%04x %s %s /CN=%s\n",
		cert.SerialNumber,
		cert.NotBefore.UTC().Format(inventoryTimeFormat),
		cert.NotAfter.UTC().Format(inventoryTimeFormat),
		cert.Subject.CommonName)
}

// Add appends cert to the log and invalidates the index. Changes made by
// other processes are caught by the content digest.
func (inv *Inventory) Add(cert *x509.Certificate) error {
	if err := inv.blobs.Append(inv.path, []byte(InventoryLine(cert)), blob.PERM_PUBLIC); err != nil {
		return err
	}
	inv.index.Invalidate()
	return nil
}

// Returns the serial of the most recent certificate issued to name, or
// nil when name never received one
func (inv *Inventory) Serial(name string) (*big.Int, error) {
	data, err := inv.blobs.Load(inv.path)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return inv.index.Lookup(data, name)
}

// InventoryIndex maps subject names to their latest serial. The map is
// rebuilt when the digest of the inventory content changes or after an
// explicit Invalidate.
type InventoryIndex struct {
	mu      sync.RWMutex
	digest  uint64
	valid   bool
	serials map[string]*big.Int
	built   time.Time
}

func (idx *InventoryIndex) Lookup(content []byte, name string) (*big.Int, error) {
	digest := xxhash.Sum64(content)

	idx.mu.RLock()
	if idx.valid && idx.digest == digest {
		serial := idx.serials[name]
		idx.mu.RUnlock()
		return serial, nil
	}
	idx.mu.RUnlock()

	if err := idx.Refresh(content); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.serials[name], nil
}

// Rebuilds the index from the inventory content
func (idx *InventoryIndex) Refresh(content []byte) error {
	serials := make(map[string]*big.Int)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		subject := strings.Join(fields[3:], " ")
		name, ok := strings.CutPrefix(subject, "/CN=")
		if !ok {
			continue
		}
		serial, ok := new(big.Int).SetString(strings.TrimPrefix(strings.ToLower(fields[0]), "0x"), 16)
		if !ok {
			continue
		}
		serials[name] = serial
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.serials = serials
	idx.digest = xxhash.Sum64(content)
	idx.valid = true
	idx.built = time.Now()
	return nil
}

func (idx *InventoryIndex) Invalidate() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.valid = false
	idx.serials = nil
}

// Reports whether the index was built and when
func (idx *InventoryIndex) Built() (time.Time, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.built, idx.valid
}
