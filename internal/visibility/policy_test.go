package visibility

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanSee(t *testing.T) {
	rel := NewRelation(map[string][]string{
		"Carolimiau": {"Dreft"},
		"Ghost":      {},
	})

	tests := []struct {
		name   string
		viewer string
		target string
		want   bool
	}{
		{"unrestricted target is visible", "Other", "Dreft", true},
		{"allowed viewer sees restricted target", "Dreft", "Carolimiau", true},
		{"other viewer cannot see restricted target", "Other", "Carolimiau", false},
		{"restricted target with empty allow-set is hidden", "Dreft", "Ghost", false},
		{"restricted user sees unrestricted users", "Carolimiau", "Other", true},
		{"match is case sensitive", "dreft", "Carolimiau", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rel.CanSee(tt.viewer, tt.target))
		})
	}
}

func TestCanSeeIsNotSymmetric(t *testing.T) {
	rel := NewRelation(map[string][]string{"A": {"C"}})

	assert.False(t, rel.CanSee("B", "A"))
	assert.True(t, rel.CanSee("A", "B"))
}

func TestCanSeeIsNotTransitive(t *testing.T) {
	rel := NewRelation(map[string][]string{
		"A": {"B"},
		"B": {"C"},
	})

	assert.True(t, rel.CanSee("B", "A"))
	assert.True(t, rel.CanSee("C", "B"))
	assert.False(t, rel.CanSee("C", "A"))
}

func TestNilRelationRestrictsNobody(t *testing.T) {
	var rel *Relation
	assert.True(t, rel.CanSee("x", "y"))
	assert.Zero(t, rel.Len())
	assert.Empty(t, rel.Restricted())
}

func TestNewRelationCopiesInput(t *testing.T) {
	in := map[string][]string{"A": {"B"}}
	rel := NewRelation(in)
	in["A"] = append(in["A"], "C")
	delete(in, "A")

	assert.True(t, rel.CanSee("B", "A"))
	assert.False(t, rel.CanSee("C", "A"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visibility.yaml")
	require.NoError(t, os.WriteFile(path, []byte("restricted:\n  Carolimiau: [Dreft]\n  Hidden: [Someone]\n"), 0o600))

	rel, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Carolimiau", "Hidden"}, rel.Restricted())
	assert.True(t, rel.CanSee("Dreft", "Carolimiau"))
	assert.True(t, rel.CanSee("Someone", "Hidden"))
	assert.False(t, rel.CanSee("Admin", "Hidden"))
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visibility.yaml")
	require.NoError(t, os.WriteFile(path, []byte("restricted: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	rel, err := Load("")
	require.NoError(t, err)
	assert.Zero(t, rel.Len())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("restricted: [unterminated"))
	assert.Error(t, err)
}
