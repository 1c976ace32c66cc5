package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `question,answer,source,focus_area
What is (are) Glaucoma ??,Glaucoma is a group of diseases that can damage the eye's optic nerve.,NIHSeniorHealth,Glaucoma
"What causes Glaucoma ? ?","Nearly 2.7 million people have glaucoma, a leading cause of blindness.",NIHSeniorHealth,Glaucoma
,orphan answer,x,y
What is high blood pressure?,,NIH,Hypertension
`

func TestNormalizeQuestion(t *testing.T) {
	tests := map[string]string{
		"What is glaucoma?":          "What is glaucoma?",
		"What is glaucoma??":         "What is glaucoma?",
		"What is (are) Glaucoma ? ?": "What is (are) Glaucoma ?",
		"  Why???  ":                 "Why?",
		"No mark":                    "No mark",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeQuestion(in), "input %q", in)
	}
}

func TestRead(t *testing.T) {
	rows, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "What is (are) Glaucoma ?", rows[0].Question)
	assert.Equal(t, "NIHSeniorHealth", rows[0].Source)
	assert.Equal(t, "Glaucoma", rows[0].FocusArea)
	assert.Equal(t, "What causes Glaucoma ?", rows[1].Question)
	assert.Contains(t, rows[1].Answer, "2.7 million")
}

func TestRead_OptionalColumns(t *testing.T) {
	rows, err := Read(strings.NewReader("Answer,Question\nA1,Q1?\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{Question: "Q1?", Answer: "A1"}, rows[0])
}

func TestRead_MissingColumn(t *testing.T) {
	_, err := Read(strings.NewReader("question,source\nq,s\n"))
	assert.ErrorIs(t, err, ErrDataset)
	assert.ErrorContains(t, err, `"answer"`)
}

func TestRead_Empty(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrDataset)

	_, err = Read(strings.NewReader("question,answer\n"))
	assert.ErrorIs(t, err, ErrDataset)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medquad.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	rows, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, ErrDataset)
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{Question: fmt.Sprintf("q%d?", i), Answer: fmt.Sprintf("a%d", i)}
	}
	return rows
}

func TestSample_Reproducible(t *testing.T) {
	rows := makeRows(100)

	a, err := Sample(rows, 10, 42)
	require.NoError(t, err)
	b, err := Sample(rows, 10, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Sample(rows, 10, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSample_Distinct(t *testing.T) {
	sample, err := Sample(makeRows(20), 20, 42)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range sample {
		assert.False(t, seen[r.Question], "duplicate %s", r.Question)
		seen[r.Question] = true
	}
}

func TestSample_InvalidSize(t *testing.T) {
	_, err := Sample(makeRows(5), 6, 42)
	assert.ErrorIs(t, err, ErrDataset)

	_, err = Sample(makeRows(5), 0, 42)
	assert.ErrorIs(t, err, ErrDataset)
}
