package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLintSource(t *testing.T) {
	src := []byte("package q\n\n" +
		"const QGood = `--sql 3f1c2a4e-9b7d-4c1a-8e2f-5d6a7b8c9d0e\nSELECT 1`\n\n" +
		"const QMissing = `\n  SELECT payload FROM app_settings`\n\n" +
		"var QBadMarker = \"--sql not-a-uuid\\nDELETE FROM app_settings\"\n\n" +
		"const prose = `Please select the best subject and update the lighting.`\n\n" +
		"const ddl = `CREATE TABLE t (id int)`\n")

	vs, err := lintSource("q.go", src)
	require.NoError(t, err)

	var names []string
	for _, v := range vs {
		names = append(names, v.name)
	}
	assert.Equal(t, []string{"QMissing", "QBadMarker", "ddl"}, names)
	assert.Equal(t, 6, vs[0].line)
}

func TestLintSettingsQueries(t *testing.T) {
	vs, err := lintTarget("../../sqlinline")
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "--sql x", firstLine("\n  --sql x  \nSELECT 1"))
	assert.Equal(t, "single", firstLine("single"))
}
