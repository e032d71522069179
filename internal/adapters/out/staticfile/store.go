// Package staticfile implements the out.StaticFile port: a YAML document
// persisted with atomic-rename writes and an fsnotify watch for
// externally-made edits (§4.4, §6.2).
package staticfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/snadboy/revpd/internal/domain"
)

// document is the on-disk shape: a single top-level list.
type document struct {
	StaticRoutes []record `yaml:"static_routes"`
}

// record mirrors domain.StaticRecord's YAML representation. Pointer fields
// carry the "absent means default" semantics §4.3 specifies; ID is not
// serialized: toDomain fills it from Domain on every load.
type record struct {
	Domain                string `yaml:"domain"`
	BackendURL            string `yaml:"backend_url"`
	BackendPath           string `yaml:"backend_path,omitempty"`
	ForceSSL              *bool  `yaml:"force_ssl,omitempty"`
	SupportWebsocket      *bool  `yaml:"support_websocket,omitempty"`
	TLSInsecureSkipVerify *bool  `yaml:"tls_insecure_skip_verify,omitempty"`
	CloudflareTunnel      *bool  `yaml:"cloudflare_tunnel,omitempty"`
	TunnelDomain          string `yaml:"tunnel_domain,omitempty"`
}

func (r record) toDomain() domain.StaticRecord {
	return domain.StaticRecord{
		ID:                    r.Domain,
		Domain:                r.Domain,
		BackendURL:            r.BackendURL,
		BackendPath:           r.BackendPath,
		ForceSSL:              r.ForceSSL,
		SupportWebsocket:      r.SupportWebsocket,
		TLSInsecureSkipVerify: r.TLSInsecureSkipVerify,
		CloudflareTunnel:      r.CloudflareTunnel,
		TunnelDomain:          r.TunnelDomain,
	}
}

func fromDomain(rec domain.StaticRecord) record {
	return record{
		Domain:                rec.Domain,
		BackendURL:            rec.BackendURL,
		BackendPath:           rec.BackendPath,
		ForceSSL:              rec.ForceSSL,
		SupportWebsocket:      rec.SupportWebsocket,
		TLSInsecureSkipVerify: rec.TLSInsecureSkipVerify,
		CloudflareTunnel:      rec.CloudflareTunnel,
		TunnelDomain:          rec.TunnelDomain,
	}
}

// Store implements out.StaticFile against a single path.
type Store struct {
	path string
}

// New constructs a Store for the static-route file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and parses the document. A missing file yields an empty set,
// matching the original system's "no static routes loaded" behavior.
func (s *Store) Load() ([]domain.StaticRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStaticFileCorrupt, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStaticFileCorrupt, err)
	}

	out := make([]domain.StaticRecord, 0, len(doc.StaticRoutes))
	for _, r := range doc.StaticRoutes {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Save atomically replaces the document's contents: marshal to a buffer,
// then hand it to atomic.WriteFile, which writes a sibling temp file on
// the same directory and renames it over the target. A reader therefore
// never observes a half-written document.
func (s *Store) Save(records []domain.StaticRecord) error {
	doc := document{StaticRoutes: make([]record, 0, len(records))}
	for _, rec := range records {
		doc.StaticRoutes = append(doc.StaticRoutes, fromDomain(rec))
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling static routes: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating static route directory: %w", err)
	}

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing static route file: %w", err)
	}
	return nil
}

// Watch notifies onChange whenever the file's directory reports a write or
// rename touching s.path. fsnotify watches the directory rather than the
// file itself so that an external atomic-rename replacement — which
// removes and recreates the inode — is still observed.
func (s *Store) Watch(onChange func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	stop := func() error {
		close(done)
		return watcher.Close()
	}
	return stop, nil
}

