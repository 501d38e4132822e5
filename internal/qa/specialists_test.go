package qa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diseaseSpecialistYAML = `name: disease
description: MONDO disease ontology lookups
source_type: ontology_disease
source_id: mondo
keywords:
  - disease
  - melanoma
overrides:
  vector_top_k: 10
`

const phenotypeSpecialistYAML = `name: phenotype
source_type: ontology_phenotype
source_id: hpo
keywords: [phenotype]
`

func writeSpecialists(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadSpecialists(t *testing.T) {
	dir := writeSpecialists(t, map[string]string{
		"disease.yaml":   diseaseSpecialistYAML,
		"phenotype.yaml": phenotypeSpecialistYAML,
		"notes.txt":      "ignored",
	})

	set, err := LoadSpecialists(dir)
	require.NoError(t, err)
	all := set.All()
	require.Len(t, all, 2)
	assert.Equal(t, "disease", all[0].Name)
	assert.Equal(t, "ontology_disease", all[0].SourceType)
	assert.Equal(t, 10, all[0].Overrides["vector_top_k"])
	assert.Equal(t, "phenotype", all[1].Name)
}

func TestLoadSpecialistsMissingDir(t *testing.T) {
	set, err := LoadSpecialists(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, set.All())
}

func TestLoadSpecialistsRejectsIncomplete(t *testing.T) {
	dir := writeSpecialists(t, map[string]string{
		"bad.yaml": "name: nameless\nkeywords: [x]\n",
	})
	_, err := LoadSpecialists(dir)
	assert.Error(t, err)
}

func TestRouteMatchesKeywordsCaseInsensitively(t *testing.T) {
	set := NewSpecialistSet(
		Specialist{Name: "disease", SourceType: "ontology_disease", SourceID: "mondo", Keywords: []string{"Melanoma"}},
		Specialist{Name: "phenotype", SourceType: "ontology_phenotype", SourceID: "hpo", Keywords: []string{"phenotype"}},
	)

	routed := set.Route("What causes MELANOMA in adults?")
	require.Len(t, routed, 1)
	assert.Equal(t, "disease", routed[0].Name)

	assert.Empty(t, set.Route("Unrelated question"))
}

func TestRouteKeywordlessSpecialistAlwaysRuns(t *testing.T) {
	set := NewSpecialistSet(
		Specialist{Name: "general", SourceType: "ontology_disease", SourceID: "mondo"},
	)
	routed := set.Route("anything at all")
	require.Len(t, routed, 1)
	assert.Equal(t, "general", routed[0].Name)
}
