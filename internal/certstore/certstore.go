// Package certstore is the credential store of the data model: two
// categories (CUPS, TC) x three sets (REG, BAK, BOOT), each slot holding
// a URI, trust anchors, an optional client cert/key, and an optional
// auth-token blob. Staged writes go through start/write/complete and are
// only made visible by commitConfigUpdate, so a crash mid-update leaves
// the previous good generation intact.
package certstore

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/lorafwd/stationd/internal/stationerr"
)

// Category distinguishes the CUPS and TC credential categories.
type Category int

const (
	CategoryCUPS Category = iota
	CategoryTC
)

func (c Category) String() string {
	if c == CategoryTC {
		return "tc"
	}
	return "cups"
}

// Set is one of the three rotating credential generations.
type Set int

const (
	SetREG Set = iota
	SetBAK
	SetBOOT
)

func (s Set) String() string {
	switch s {
	case SetBAK:
		return "bak"
	case SetBOOT:
		return "boot"
	default:
		return "reg"
	}
}

// Next rotates REG -> BAK -> BOOT -> REG, matching "(credset+1) mod 3".
func (s Set) Next() Set { return (s + 1) % 3 }

// Slot is one credential generation's on-disk material.
type Slot struct {
	URI        string
	TrustedCAs [][]byte
	ClientCert []byte
	ClientKey  []byte
	AuthToken  []byte
}

// Store is the home-directory-rooted credential store.
type Store struct {
	homeDir string
	slots   map[Category]map[Set]*Slot
	staging map[Category]*stagingFile
}

type stagingFile struct {
	f        *os.File
	path     string
	declared int
	written  int
}

// New opens a Store rooted at homeDir, creating the directory layout if
// absent.
func New(homeDir string) (*Store, error) {
	for _, cat := range []Category{CategoryCUPS, CategoryTC} {
		if err := os.MkdirAll(filepath.Join(homeDir, cat.String()), 0o700); err != nil {
			return nil, err
		}
	}
	return &Store{
		homeDir: homeDir,
		slots: map[Category]map[Set]*Slot{
			CategoryCUPS: {SetREG: {}, SetBAK: {}, SetBOOT: {}},
			CategoryTC:   {SetREG: {}, SetBAK: {}, SetBOOT: {}},
		},
		staging: map[Category]*stagingFile{},
	}, nil
}

// Slot returns the current slot for (cat, set); never nil.
func (s *Store) Slot(cat Category, set Set) *Slot { return s.slots[cat][set] }

// SaveURI writes uri into the REG slot's URI field (uri segments are
// applied directly, not staged through start/write/complete).
func (s *Store) SaveURI(cat Category, uri string) {
	s.slots[cat][SetREG].URI = uri
}

func (s *Store) stagingPath(cat Category) string {
	return filepath.Join(s.homeDir, cat.String(), "staged.cred")
}

// CredStart opens a staged file of declared length len for category cat.
func (s *Store) CredStart(cat Category, length int) error {
	path := s.stagingPath(cat)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("staging %s credential: %w", cat, err)
	}
	s.staging[cat] = &stagingFile{f: f, path: path, declared: length}
	return nil
}

// CredWrite streams dlen bytes of data at byte offset off into the
// staged file.
func (s *Store) CredWrite(cat Category, data []byte, off, dlen int) error {
	st := s.staging[cat]
	if st == nil {
		return stationerr.New(stationerr.CodeProtoError, "credWrite without credStart").WithContext("category", cat.String())
	}
	if _, err := st.f.WriteAt(data[:dlen], int64(off)); err != nil {
		return err
	}
	st.written += dlen
	return nil
}

// CredComplete finalizes a staged credential write of total length len.
func (s *Store) CredComplete(cat Category, length int) error {
	st := s.staging[cat]
	if st == nil {
		return stationerr.New(stationerr.CodeProtoError, "credComplete without credStart")
	}
	if st.written != length {
		return stationerr.New(stationerr.CodeProtoError, "credential length mismatch").
			WithContext("declared", length).WithContext("written", st.written)
	}
	return st.f.Close()
}

// CRC computes the CRC-32/IEEE of a slot's on-disk credential blob,
// matching the CUPS request's cupsCredCrc/tcCredCrc fields.
func (s *Store) CRC(cat Category, set Set) (uint32, error) {
	path := filepath.Join(s.homeDir, cat.String(), set.String()+".cred")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(data), nil
}

// BackupConfig promotes the current REG generation to BAK; the caller
// (cups package) is responsible for calling this at most once per
// session, before the first staged write, and only when credset==REG.
func (s *Store) BackupConfig(cat Category) error {
	regPath := filepath.Join(s.homeDir, cat.String(), SetREG.String()+".cred")
	bakPath := filepath.Join(s.homeDir, cat.String(), SetBAK.String()+".cred")
	data, err := os.ReadFile(regPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(bakPath, data, 0o600); err != nil {
		return err
	}
	s.slots[cat][SetBAK] = &Slot{
		URI:        s.slots[cat][SetREG].URI,
		TrustedCAs: s.slots[cat][SetREG].TrustedCAs,
		ClientCert: s.slots[cat][SetREG].ClientCert,
		ClientKey:  s.slots[cat][SetREG].ClientKey,
		AuthToken:  s.slots[cat][SetREG].AuthToken,
	}
	return nil
}

// ResetConfigUpdate discards any staged-but-uncommitted files for both
// categories, leaving the current generation untouched.
func (s *Store) ResetConfigUpdate() error {
	for cat, st := range s.staging {
		if st == nil {
			continue
		}
		st.f.Close()
		os.Remove(st.path)
		delete(s.staging, cat)
	}
	return nil
}

// CommitConfigUpdate atomically promotes every staged file for a
// category to its canonical REG path, then clears that category's
// staging, so a repeated call in the same session is a no-op. The CUPS
// session calls it when the UPDATE segment begins (before the firmware
// file is opened) and again on reaching DONE.
func (s *Store) CommitConfigUpdate(cat Category) error {
	st := s.staging[cat]
	if st == nil {
		return nil
	}
	canonical := filepath.Join(s.homeDir, cat.String(), SetREG.String()+".cred")
	if err := os.Rename(st.path, canonical); err != nil {
		return err
	}
	delete(s.staging, cat)
	return nil
}
