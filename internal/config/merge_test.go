package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ExtendsChain(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Templates: map[string]*Job{
			"root": {
				Name:      "root",
				Stage:     "build",
				Tags:      []string{"a", "b"},
				Variables: map[string]string{"X": "root", "Y": "root"},
			},
			"mid": {
				Name:    "mid",
				Extends: []string{"root"},
				Image:   "golang:1.24",
				Tags:    []string{"mid"},
			},
		},
		Jobs: map[string]*Job{
			"leaf": {
				Name:      "leaf",
				Extends:   []string{"mid"},
				Script:    []string{"make"},
				Tags:      []string{"c"},
				Variables: map[string]string{"X": "leaf"},
			},
		},
	}

	require.NoError(t, Resolve(doc))
	leaf := doc.Jobs["leaf"]

	assert.Equal(t, "build", leaf.Stage, "scalar inherited through the chain")
	assert.Equal(t, "golang:1.24", leaf.Image)
	assert.Equal(t, []string{"make"}, leaf.Script)
	assert.Empty(t, leaf.Extends, "extends is consumed by resolution")

	// Lists and maps replace wholesale, they never merge element-wise.
	assert.Equal(t, []string{"c"}, leaf.Tags)
	assert.Equal(t, map[string]string{"X": "leaf"}, leaf.Variables)
}

func TestResolve_MultipleParentsLaterWins(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Templates: map[string]*Job{
			"first":  {Name: "first", Stage: "build", Image: "first-image"},
			"second": {Name: "second", Image: "second-image"},
		},
		Jobs: map[string]*Job{
			"j": {Name: "j", Extends: []string{"first", "second"}, Script: []string{"true"}},
		},
	}

	require.NoError(t, Resolve(doc))
	j := doc.Jobs["j"]
	assert.Equal(t, "build", j.Stage)
	assert.Equal(t, "second-image", j.Image)
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown template", func(t *testing.T) {
		t.Parallel()
		doc := &Document{
			Templates: map[string]*Job{},
			Jobs:      map[string]*Job{"j": {Name: "j", Extends: []string{"nope"}}},
		}
		err := Resolve(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown template "nope"`)
	})

	t.Run("template cycle", func(t *testing.T) {
		t.Parallel()
		doc := &Document{
			Templates: map[string]*Job{
				"a": {Name: "a", Extends: []string{"b"}},
				"b": {Name: "b", Extends: []string{"a"}},
			},
			Jobs: map[string]*Job{"j": {Name: "j", Extends: []string{"a"}}},
		}
		err := Resolve(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})
}
