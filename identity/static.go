package identity

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticResolver serves identities from memory. It backs the memory storage
// driver and tests, seeded from a YAML file of the form:
//
//	companies:
//	  - id: C1
//	    name: Acme Builders
//	projects:
//	  - id: P1
//	    name: Riverside Tower
//	    company_id: C1
//	workers:
//	  - id: W1
//	    name: Aung Aung
type StaticResolver struct {
	mu        sync.RWMutex
	projects  map[string]Record
	workers   map[string]Record
	companies map[string]Record
}

type seedFile struct {
	Companies []Record `yaml:"companies"`
	Projects  []Record `yaml:"projects"`
	Workers   []Record `yaml:"workers"`
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		projects:  map[string]Record{},
		workers:   map[string]Record{},
		companies: map[string]Record{},
	}
}

func LoadStaticResolver(path string) (*StaticResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity seed: %w", err)
	}
	defer f.Close()
	return ParseStaticResolver(f)
}

func ParseStaticResolver(r io.Reader) (*StaticResolver, error) {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode identity seed: %w", err)
	}
	s := NewStaticResolver()
	for _, c := range seed.Companies {
		s.AddCompany(c)
	}
	for _, p := range seed.Projects {
		if p.CompanyId == "" {
			return nil, fmt.Errorf("project %q has no company_id", p.Id)
		}
		if _, ok := s.companies[p.CompanyId]; !ok {
			return nil, fmt.Errorf("project %q references unknown company %q", p.Id, p.CompanyId)
		}
		s.AddProject(p)
	}
	for _, w := range seed.Workers {
		s.AddWorker(w)
	}
	return s, nil
}

func (s *StaticResolver) AddProject(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[r.Id] = r
}

func (s *StaticResolver) AddWorker(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[r.Id] = r
}

func (s *StaticResolver) AddCompany(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[r.Id] = r
}

func (s *StaticResolver) lookup(m map[string]Record, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *StaticResolver) ResolveProject(_ context.Context, id string) (*Record, error) {
	return s.lookup(s.projects, id)
}

func (s *StaticResolver) ResolveWorker(_ context.Context, id string) (*Record, error) {
	return s.lookup(s.workers, id)
}

func (s *StaticResolver) ResolveCompany(_ context.Context, id string) (*Record, error) {
	return s.lookup(s.companies, id)
}
