package service

import (
	"bytes"
	"testing"
	"time"

	"docgateway/internal/datastore/domain/model"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDatasetCodec_DateRoundTrip(t *testing.T) {
	codec := NewDatasetCodec()
	when := time.Date(2021, 6, 7, 8, 9, 10, 123456789, time.UTC)

	archive := Archive{
		{Name: "people", Records: []model.Record{
			{Type: "people", Guid: "g1", Fields: map[string]interface{}{
				"name":    "ada",
				"born":    when,
				"age":     float64(36),
				"tags":    []interface{}{"x", when},
				"address": map[string]interface{}{"since": when, "city": "London"},
				"active":  true,
				"nothing": nil,
			}},
		}},
		{Name: "empty", Records: nil},
	}

	data, err := codec.Encode(archive)
	require.NoError(t, err)

	decoded, skipped, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty.json"}, skipped)
	require.Len(t, decoded, 1)
	assert.Equal(t, "people", decoded[0].Name)
	require.Len(t, decoded[0].Records, 1)

	rec := decoded[0].Records[0]
	assert.Equal(t, "g1", rec.Guid)
	assert.Equal(t, "people", rec.Type)
	assert.Equal(t, archive[0].Records[0].Fields, rec.Fields)
}

func TestDatasetCodec_EncodeValue(t *testing.T) {
	codec := NewDatasetCodec()
	when := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, map[string]interface{}{"$date": "2020-01-01T00:00:00Z"}, codec.EncodeValue(when))
	assert.Equal(t, "plain", codec.EncodeValue("plain"))
}

func TestDatasetCodec_InvalidDateWrapperPassesThrough(t *testing.T) {
	codec := NewDatasetCodec()
	wrapper := map[string]interface{}{"$date": "not a date"}
	assert.Equal(t, wrapper, codec.DecodeValue(wrapper))

	extra := map[string]interface{}{"$date": "2020-01-01T00:00:00Z", "other": 1.0}
	assert.Equal(t, extra, codec.DecodeValue(extra))
}

func TestDatasetCodec_DecodeFieldsTopLevelOnly(t *testing.T) {
	codec := NewDatasetCodec()
	fields := map[string]interface{}{
		"at":     map[string]interface{}{"$date": "2020-01-01T00:00:00Z"},
		"nested": map[string]interface{}{"at": map[string]interface{}{"$date": "2020-01-01T00:00:00Z"}},
		"millis": map[string]interface{}{"$date": float64(0)},
	}
	out := codec.DecodeFields(fields)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), out["at"])
	assert.Equal(t, time.UnixMilli(0).UTC(), out["millis"])
	assert.Equal(t, fields["nested"], out["nested"])
	assert.Nil(t, codec.DecodeFields(nil))
}

func TestDatasetCodec_DecodeToleratesArtefactsAndNDJSON(t *testing.T) {
	codec := NewDatasetCodec()
	data := buildZip(t, map[string]string{
		"export/":                   "",
		"__MACOSX/._people.json":    "garbage",
		"export/.DS_Store":          "garbage",
		"export/people.json":        `[{"type":"people","guid":"1","fields":{"name":"ada"}}]`,
		"export/events.json":        "{\"_id\":{\"$oid\":\"5f1a2b3c4d5e6f7a8b9c0d1e\"},\"at\":{\"$date\":\"2020-01-01T00:00:00Z\"}}\n{\"_id\":\"e2\",\"n\":1}\n",
		"export/broken.json":        `[{"type":`,
		"export/blank.json":         "   ",
	}, "export/", "__MACOSX/._people.json", "export/.DS_Store", "export/people.json", "export/events.json", "export/broken.json", "export/blank.json")

	archive, skipped, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"people", "events"}, archive.Names())
	assert.ElementsMatch(t, []string{"export/broken.json", "export/blank.json"}, skipped)

	events := archive[1].Records
	require.Len(t, events, 2)
	assert.Equal(t, "5f1a2b3c4d5e6f7a8b9c0d1e", events[0].Guid)
	assert.Equal(t, "events", events[0].Type)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), events[0].Fields["at"])
	assert.Equal(t, "e2", events[1].Guid)
	assert.Equal(t, float64(1), events[1].Fields["n"])
}

func TestDatasetCodec_DecodeRejectsNonZip(t *testing.T) {
	_, _, err := NewDatasetCodec().Decode([]byte("definitely not a zip"))
	require.Error(t, err)
}

func TestDatasetCodec_EncodeRejectsUnnamedCollection(t *testing.T) {
	_, err := NewDatasetCodec().Encode(Archive{{Name: ""}})
	require.Error(t, err)
}
