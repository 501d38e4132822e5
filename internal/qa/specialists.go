package qa

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Specialist is a named retriever over one ontology scope. Its findings are
// folded into the prompt as a dedicated context block.
type Specialist struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	SourceType  string                 `yaml:"source_type"`
	SourceID    string                 `yaml:"source_id"`
	Keywords    []string               `yaml:"keywords"`
	Overrides   map[string]interface{} `yaml:"overrides"`
}

// SpecialistSet routes questions to specialists by keyword match.
type SpecialistSet struct {
	specialists []Specialist
}

// LoadSpecialists reads every *.yaml definition under dir. A missing
// directory yields an empty set; answering works without specialists.
func LoadSpecialists(dir string) (*SpecialistSet, error) {
	set := &SpecialistSet{}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return set, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot read specialists dir %s", dir)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot read %s", path)
		}
		var sp Specialist
		if err := yaml.Unmarshal(raw, &sp); err != nil {
			return nil, fault.Wrap(fault.KindInvalidArgument, err, "malformed specialist %s", path)
		}
		if sp.Name == "" || sp.SourceType == "" || sp.SourceID == "" {
			return nil, fault.Invalid("specialist %s needs name, source_type and source_id", path)
		}
		set.specialists = append(set.specialists, sp)
	}
	sort.Slice(set.specialists, func(i, j int) bool {
		return set.specialists[i].Name < set.specialists[j].Name
	})
	return set, nil
}

// NewSpecialistSet builds a set from in-memory definitions.
func NewSpecialistSet(specialists ...Specialist) *SpecialistSet {
	set := &SpecialistSet{specialists: specialists}
	sort.Slice(set.specialists, func(i, j int) bool {
		return set.specialists[i].Name < set.specialists[j].Name
	})
	return set
}

// All returns every loaded specialist in name order.
func (s *SpecialistSet) All() []Specialist {
	return s.specialists
}

// Route returns the specialists whose keywords occur in the question,
// case-insensitively. A specialist with no keywords is always routed.
func (s *SpecialistSet) Route(question string) []Specialist {
	lowered := strings.ToLower(question)
	var out []Specialist
	for _, sp := range s.specialists {
		if len(sp.Keywords) == 0 {
			out = append(out, sp)
			continue
		}
		for _, kw := range sp.Keywords {
			if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
				out = append(out, sp)
				break
			}
		}
	}
	return out
}
