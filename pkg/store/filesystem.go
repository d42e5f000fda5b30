package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

const (
	orgDocName   = "organization.json"
	teamDocName  = "team.json"
	quotaDocName = "quota.json"
	auditLogName = "audit-log.jsonl"
	teamsDirName = "teams"
	keysDirName  = "keys"
)

// FileStore implements Store on a local filesystem root.
type FileStore struct {
	root    string
	cache   *documentCache
	group   singleflight.Group
	metrics Metrics

	// auditMu serializes appends so interleaved writers cannot tear a line.
	auditMu sync.Mutex
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithCacheSize bounds the number of cached documents.
func WithCacheSize(size int) Option {
	return func(s *FileStore) {
		s.cache = newDocumentCache(size)
	}
}

// WithMetrics wires store observations to a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *FileStore) {
		s.metrics = m
	}
}

// NewFileStore creates a filesystem-backed store rooted at root.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	s := &FileStore{
		root:  root,
		cache: newDocumentCache(defaultCacheSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) orgDir(orgID string) string {
	return filepath.Join(s.root, orgID)
}

func (s *FileStore) teamDir(orgID, teamID string) string {
	return filepath.Join(s.root, orgID, teamsDirName, teamID)
}

// readDocument loads and unmarshals one JSON document into out. Returns
// (false, nil) when the document does not exist.
func readDocument(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return true, nil
}

// writeDocument marshals and overwrites one JSON document, creating parent
// directories as needed.
func writeDocument(path string, doc interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// getCached runs the read-through path for one cache key: cache lookup,
// singleflight-deduplicated load on miss, cache fill on hit from disk.
func (s *FileStore) getCached(key, entity string, load func() (interface{}, bool, error)) (interface{}, error) {
	if doc, ok := s.cache.get(key); ok {
		if s.metrics != nil {
			s.metrics.RecordCacheHit(entity)
		}
		return doc, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(entity)
	}

	doc, err, _ := s.group.Do(key, func() (interface{}, error) {
		doc, found, err := load()
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		s.cache.put(key, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetOrganization implements Store.GetOrganization.
func (s *FileStore) GetOrganization(ctx context.Context, orgID string) (*tenant.Organization, error) {
	doc, err := s.getCached(cacheKeyOrg(orgID), "organization", func() (interface{}, bool, error) {
		var org tenant.Organization
		found, err := readDocument(filepath.Join(s.orgDir(orgID), orgDocName), &org)
		if err != nil || !found {
			return nil, found, err
		}
		return &org, true, nil
	})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.(*tenant.Organization), nil
}

// SaveOrganization implements Store.SaveOrganization.
func (s *FileStore) SaveOrganization(ctx context.Context, org *tenant.Organization) error {
	if err := writeDocument(filepath.Join(s.orgDir(org.ID), orgDocName), org); err != nil {
		return err
	}
	s.cache.put(cacheKeyOrg(org.ID), org)
	return nil
}

// ListOrganizations implements Store.ListOrganizations.
func (s *FileStore) ListOrganizations(ctx context.Context) ([]*tenant.Organization, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	var orgs []*tenant.Organization
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		org, err := s.GetOrganization(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		if org != nil {
			orgs = append(orgs, org)
		}
	}
	return orgs, nil
}

// GetTeam implements Store.GetTeam.
func (s *FileStore) GetTeam(ctx context.Context, orgID, teamID string) (*tenant.Team, error) {
	doc, err := s.getCached(cacheKeyTeam(orgID, teamID), "team", func() (interface{}, bool, error) {
		var team tenant.Team
		found, err := readDocument(filepath.Join(s.teamDir(orgID, teamID), teamDocName), &team)
		if err != nil || !found {
			return nil, found, err
		}
		return &team, true, nil
	})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.(*tenant.Team), nil
}

// SaveTeam implements Store.SaveTeam.
func (s *FileStore) SaveTeam(ctx context.Context, team *tenant.Team) error {
	path := filepath.Join(s.teamDir(team.OrganizationID, team.ID), teamDocName)
	if err := writeDocument(path, team); err != nil {
		return err
	}
	s.cache.put(cacheKeyTeam(team.OrganizationID, team.ID), team)
	return nil
}

// ListTeams implements Store.ListTeams.
func (s *FileStore) ListTeams(ctx context.Context, orgID string) ([]*tenant.Team, error) {
	entries, err := os.ReadDir(filepath.Join(s.orgDir(orgID), teamsDirName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read teams directory: %w", err)
	}

	var teams []*tenant.Team
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		team, err := s.GetTeam(ctx, orgID, entry.Name())
		if err != nil {
			return nil, err
		}
		if team != nil {
			teams = append(teams, team)
		}
	}
	return teams, nil
}

// GetAPIKey implements Store.GetAPIKey.
func (s *FileStore) GetAPIKey(ctx context.Context, orgID, keyID string) (*tenant.APIKey, error) {
	doc, err := s.getCached(cacheKeyAPIKey(orgID, keyID), "api_key", func() (interface{}, bool, error) {
		var key tenant.APIKey
		path := filepath.Join(s.orgDir(orgID), keysDirName, keyID+".json")
		found, err := readDocument(path, &key)
		if err != nil || !found {
			return nil, found, err
		}
		return &key, true, nil
	})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.(*tenant.APIKey), nil
}

// SaveAPIKey implements Store.SaveAPIKey.
func (s *FileStore) SaveAPIKey(ctx context.Context, key *tenant.APIKey) error {
	path := filepath.Join(s.orgDir(key.OrganizationID), keysDirName, key.ID+".json")
	if err := writeDocument(path, key); err != nil {
		return err
	}
	s.cache.put(cacheKeyAPIKey(key.OrganizationID, key.ID), key)
	return nil
}

// ListAPIKeys implements Store.ListAPIKeys.
func (s *FileStore) ListAPIKeys(ctx context.Context, orgID string) ([]*tenant.APIKey, error) {
	entries, err := os.ReadDir(filepath.Join(s.orgDir(orgID), keysDirName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keys directory: %w", err)
	}

	var keys []*tenant.APIKey
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key, err := s.GetAPIKey(ctx, orgID, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if key != nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// GetQuota implements Store.GetQuota.
func (s *FileStore) GetQuota(ctx context.Context, orgID, teamID string) (*tenant.UsageQuota, error) {
	path := filepath.Join(s.orgDir(orgID), quotaDocName)
	if teamID != "" {
		path = filepath.Join(s.teamDir(orgID, teamID), quotaDocName)
	}

	doc, err := s.getCached(cacheKeyQuota(orgID, teamID), "quota", func() (interface{}, bool, error) {
		var quota tenant.UsageQuota
		found, err := readDocument(path, &quota)
		if err != nil || !found {
			return nil, found, err
		}
		return &quota, true, nil
	})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.(*tenant.UsageQuota), nil
}

// SaveQuota implements Store.SaveQuota.
func (s *FileStore) SaveQuota(ctx context.Context, quota *tenant.UsageQuota) error {
	path := filepath.Join(s.orgDir(quota.OrganizationID), quotaDocName)
	if quota.TeamID != "" {
		path = filepath.Join(s.teamDir(quota.OrganizationID, quota.TeamID), quotaDocName)
	}
	if err := writeDocument(path, quota); err != nil {
		return err
	}
	s.cache.put(cacheKeyQuota(quota.OrganizationID, quota.TeamID), quota)
	return nil
}

// AppendAuditLog implements Store.AppendAuditLog.
func (s *FileStore) AppendAuditLog(ctx context.Context, entry *tenant.AuditEntry) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	dir := s.orgDir(entry.OrganizationID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, auditLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit log entry: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordAuditAppend()
	}
	return nil
}

// GetAuditLogs implements Store.GetAuditLogs.
func (s *FileStore) GetAuditLogs(ctx context.Context, orgID string, limit int) ([]*tenant.AuditEntry, error) {
	file, err := os.Open(filepath.Join(s.orgDir(orgID), auditLogName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var entries []*tenant.AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry tenant.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ClearCache implements Store.ClearCache.
func (s *FileStore) ClearCache() {
	s.cache.purge()
}
