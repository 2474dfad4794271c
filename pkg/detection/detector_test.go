package detection

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `{
  "images": [
    {
      "file": "1.jpg",
      "max_detection_conf": 0.9,
      "detections": [
        {"category": "1", "conf": 0.9, "bbox": [0.1, 0.1, 0.2, 0.2]},
        {"category": "0", "conf": 0.8, "bbox": [0.5, 0.5, 0.1, 0.1]},
        {"category": "1", "conf": 0.2, "bbox": [0.3, 0.3, 0.1, 0.1]}
      ]
    },
    {"file": "2.jpg"},
    {"file": "3.jpg", "detections": []},
    {"file": "4.jpg", "failure": "Failure image access"}
  ],
  "detection_categories": {"1": "animal", "2": "person", "3": "vehicle"},
  "info": {"detector": "md_v5a.0.0.pt"}
}`

func TestParse(t *testing.T) {
	out, err := Parse(strings.NewReader(sampleOutput))
	require.NoError(t, err)
	require.Len(t, out.Images, 4)

	assert.Equal(t, "1.jpg", out.Images[0].File)
	require.Len(t, out.Images[0].Detections, 3)
	box, err := out.Images[0].Detections[0].Box()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, box.X, 1e-9)
	assert.InDelta(t, 0.2, box.H, 1e-9)

	assert.Nil(t, out.Images[1].Detections, "missing key decodes as no detections")
	assert.False(t, HasDetections(out.Images[1]))
	assert.False(t, HasDetections(out.Images[2]))
	assert.Equal(t, "Failure image access", out.Images[3].Failure)
	assert.Equal(t, "md_v5a.0.0.pt", out.Info["detector"])
}

func TestAnimalDetectionsKeepsDocumentOrder(t *testing.T) {
	out, err := Parse(strings.NewReader(sampleOutput))
	require.NoError(t, err)

	animals := AnimalDetections(out.Images[0], 0)
	require.Len(t, animals, 2)
	assert.InDelta(t, 0.1, animals[0].BBox[0], 1e-9)
	assert.InDelta(t, 0.3, animals[1].BBox[0], 1e-9)

	confident := AnimalDetections(out.Images[0], 0.5)
	require.Len(t, confident, 1)
	assert.InDelta(t, 0.9, confident[0].Conf, 1e-9)

	assert.Empty(t, AnimalDetections(out.Images[1], 0))
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"images": [`))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`{"other": 1}`))
	assert.Error(t, err)
}

func TestParseDefaultsCategories(t *testing.T) {
	out, err := Parse(strings.NewReader(`{"images": []}`))
	require.NoError(t, err)
	assert.Equal(t, "animal", CategoryName(out, CategoryAnimal))
	assert.Equal(t, "7", CategoryName(out, "7"))
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bounding_boxes.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleOutput), 0o644))

	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, out.Images, 4)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestBoxRejectsWrongLength(t *testing.T) {
	out, err := Parse(strings.NewReader(`{"images":[{"file":"x.jpg","detections":[{"category":"1","bbox":[0.1,0.2]}]}]}`))
	require.NoError(t, err)

	_, err = out.Images[0].Detections[0].Box()
	assert.Error(t, err)
}
