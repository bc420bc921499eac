package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Artifact is a file uploaded to or produced by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	SHA256      string
	Created     time.Time
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

// ArtifactStore indexes artifacts by id for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

func newArtifactStore() *ArtifactStore {
	return &ArtifactStore{entries: make(map[string]Artifact)}
}

func (st *ArtifactStore) put(art Artifact) {
	st.mu.Lock()
	st.entries[art.ID] = art
	st.mu.Unlock()
}

func (st *ArtifactStore) get(id string) (Artifact, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	art, ok := st.entries[id]
	return art, ok
}

// list returns every artifact, oldest first.
func (st *ArtifactStore) list() []ArtifactRef {
	st.mu.RLock()
	arts := make([]Artifact, 0, len(st.entries))
	for _, art := range st.entries {
		arts = append(arts, art)
	}
	st.mu.RUnlock()
	sort.Slice(arts, func(i, j int) bool {
		if !arts[i].Created.Equal(arts[j].Created) {
			return arts[i].Created.Before(arts[j].Created)
		}
		return arts[i].ID < arts[j].ID
	})
	refs := make([]ArtifactRef, len(arts))
	for i, art := range arts {
		refs[i] = toRef(art)
	}
	return refs
}

// newArtifact describes the file at path without registering it.
func (s *Server) newArtifact(path, name, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if contentType == "" {
		contentType = guessContentType(name)
	}
	return Artifact{
		ID:          randomID(),
		Path:        path,
		Name:        name,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
		Created:     time.Now().UTC(),
	}, nil
}

func (s *Server) storeArtifact(art Artifact) {
	s.artifacts.put(art)
}

// publish registers the file at path as a downloadable artifact.
func (s *Server) publish(path, name, contentType, kind string) (ArtifactRef, error) {
	art, err := s.newArtifact(path, name, contentType, kind)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("register %s: %w", name, err)
	}
	s.storeArtifact(art)
	return toRef(art), nil
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
		SHA256:      art.SHA256,
	}
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gsf":
		return "application/octet-stream"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x%06d", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
