package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/factory"
)

func TestParseRules_JSON(t *testing.T) {
	doc := `{
	  "fallback": "Z",
	  "rules": [
	    {"prefix": "OT", "field": "building", "keywords": ["오피스텔"]},
	    {"prefix": "R",  "field": "building", "keywords": ["오피스", "상가"]}
	  ]
	}`

	resolver, err := factory.ParseRules([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, codes.Prefix("OT"), resolver.Resolve("", "오피스텔"))
	assert.Equal(t, codes.Prefix("R"), resolver.Resolve("", "오피스"))
	assert.Equal(t, codes.Prefix("Z"), resolver.Resolve("매매", "아파트"))
}

func TestParseRules_YAML(t *testing.T) {
	doc := `
rules:
  - prefix: BO
    field: transaction
    keywords: [월세, 단기임대]
`
	resolver, err := factory.ParseRules([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, codes.Prefix("BO"), resolver.Resolve("단기임대", ""))
	assert.Equal(t, codes.PrefixUnclassified, resolver.Fallback(), "fallback defaults to X")
}

func TestParseRules_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"no rules", `{"fallback":"X"}`},
		{"empty rules", `{"rules":[]}`},
		{"lowercase prefix", `{"rules":[{"prefix":"c","field":"building","keywords":["x"]}]}`},
		{"three letter prefix", `{"rules":[{"prefix":"ABC","field":"building","keywords":["x"]}]}`},
		{"unknown field", `{"rules":[{"prefix":"C","field":"floor","keywords":["x"]}]}`},
		{"no keywords", `{"rules":[{"prefix":"C","field":"building","keywords":[]}]}`},
		{"extra property", `{"rules":[{"prefix":"C","field":"building","keywords":["x"],"weight":2}]}`},
		{"bad yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.ParseRules([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDefaultRulesJSON_RoundTrips(t *testing.T) {
	// GIVEN: The built-in table rendered as a document
	// WHEN: It is parsed back
	// THEN: It resolves exactly like the built-in resolver

	resolver, err := factory.ParseRules([]byte(factory.DefaultRulesJSON()))
	require.NoError(t, err)

	assert.Equal(t, codes.DefaultResolver().Prefixes(), resolver.Prefixes())
	for _, labels := range [][2]string{
		{"매매", "아파트"},
		{"전세", "빌라"},
		{"월세", "오피스텔"},
		{"", "재건축"},
		{"", ""},
	} {
		assert.Equal(t, codes.ResolvePrefix(labels[0], labels[1]), resolver.Resolve(labels[0], labels[1]), labels)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback: X\nrules:\n  - {prefix: C, field: building, keywords: [apt]}\n"), 0o644))

	resolver, err := factory.LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, codes.Prefix("C"), resolver.Resolve("", "APT"))

	_, err = factory.LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
