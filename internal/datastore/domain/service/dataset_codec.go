package service

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"docgateway/internal/datastore/domain/model"
	apperrors "docgateway/internal/shared/errors"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
)

const (
	dateKey        = "$date"
	oidKey         = "$oid"
	entryExtension = ".json"
	macOSArtefacts = "__MACOSX/"
)

// CollectionData is one collection's records inside an archive.
type CollectionData struct {
	Name    string
	Records []model.Record
}

// Archive is an ordered set of collections.
type Archive []CollectionData

// Names lists the collection names in archive order.
func (a Archive) Names() []string {
	names := make([]string, len(a))
	for i, c := range a {
		names[i] = c.Name
	}
	return names
}

// DatasetCodec converts tenant datasets to and from zip archives of JSON entries.
type DatasetCodec struct{}

// NewDatasetCodec creates a codec. It holds no state.
func NewDatasetCodec() *DatasetCodec {
	return &DatasetCodec{}
}

// Encode writes one <collection>.json entry per collection, each a JSON array of records.
func (c *DatasetCodec) Encode(archive Archive) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, coll := range archive {
		if coll.Name == "" {
			return nil, apperrors.NewValidationError("archive collection name must not be empty")
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     coll.Name + entryExtension,
			Method:   zip.Deflate,
			Modified: time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", coll.Name, err)
		}

		records := make([]model.Record, len(coll.Records))
		for i, r := range coll.Records {
			records[i] = model.Record{
				Type:   r.Type,
				Guid:   r.Guid,
				Fields: c.EncodeValue(r.Fields).(map[string]interface{}),
			}
		}
		if records == nil {
			records = []model.Record{}
		}
		data, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", coll.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", coll.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads an archive produced by Encode. Entries may also hold newline
// delimited JSON. Directories, dot-files and macOS artefacts are ignored.
// Entries that are empty or cannot be parsed are returned in skipped.
func (c *DatasetCodec) Decode(data []byte) (Archive, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, apperrors.NewValidationError("import payload is not a zip archive").WithCause(err)
	}

	var (
		archive Archive
		skipped []string
	)
	for _, f := range zr.File {
		if ignoredEntry(f) {
			continue
		}
		name := collectionName(f.Name)
		if name == "" {
			skipped = append(skipped, f.Name)
			continue
		}

		records, err := c.readEntry(f, name)
		if err != nil || len(records) == 0 {
			skipped = append(skipped, f.Name)
			continue
		}
		archive = append(archive, CollectionData{Name: name, Records: records})
	}
	return archive, skipped, nil
}

func ignoredEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return true
	}
	if strings.HasPrefix(f.Name, macOSArtefacts) || strings.Contains(f.Name, "/"+macOSArtefacts) {
		return true
	}
	return strings.HasPrefix(path.Base(f.Name), ".")
}

func collectionName(entry string) string {
	base := path.Base(entry)
	return strings.TrimSuffix(base, path.Ext(base))
}

func (c *DatasetCodec) readEntry(f *zip.File, collection string) ([]model.Record, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return nil, nil
	}

	var raws []map[string]interface{}
	if content[0] == '[' {
		if err := json.Unmarshal(content, &raws); err != nil {
			return nil, err
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(content))
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var raw map[string]interface{}
			if err := json.Unmarshal(line, &raw); err != nil {
				return nil, err
			}
			raws = append(raws, raw)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	records := make([]model.Record, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		records = append(records, c.recordFromRaw(raw, collection))
	}
	return records, nil
}

// recordFromRaw accepts {type, guid, fields} records and bare documents keyed by _id.
func (c *DatasetCodec) recordFromRaw(raw map[string]interface{}, collection string) model.Record {
	if fields, ok := raw["fields"].(map[string]interface{}); ok {
		typ, _ := raw["type"].(string)
		if typ == "" {
			typ = collection
		}
		guid, _ := raw["guid"].(string)
		return model.Record{Type: typ, Guid: guid, Fields: c.DecodeValue(fields).(map[string]interface{})}
	}

	fields := make(map[string]interface{}, len(raw))
	var guid string
	for k, v := range raw {
		if k == model.IDField {
			guid = idString(v)
			continue
		}
		fields[k] = c.DecodeValue(v)
	}
	return model.Record{Type: collection, Guid: guid, Fields: fields}
}

func idString(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		if oid, ok := m[oidKey].(string); ok {
			return oid
		}
	}
	return model.GuidString(v)
}

// EncodeValue replaces every time.Time with a {"$date": RFC3339Nano} wrapper.
func (c *DatasetCodec) EncodeValue(v interface{}) interface{} {
	switch val := model.NormalizeValue(v).(type) {
	case time.Time:
		return map[string]interface{}{dateKey: val.UTC().Format(time.RFC3339Nano)}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = c.EncodeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = c.EncodeValue(item)
		}
		return out
	default:
		return val
	}
}

// DecodeValue turns valid {"$date": ...} wrappers back into time.Time at any depth.
// Invalid wrappers are left as they are.
func (c *DatasetCodec) DecodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if t, ok := decodeDateWrapper(val); ok {
			return t
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = c.DecodeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = c.DecodeValue(item)
		}
		return out
	default:
		return v
	}
}

// DecodeFields decodes $date wrappers on the top level of fields only.
func (c *DatasetCodec) DecodeFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]interface{}); ok {
			if t, ok := decodeDateWrapper(m); ok {
				out[k] = t
				continue
			}
		}
		out[k] = v
	}
	return out
}

func decodeDateWrapper(m map[string]interface{}) (time.Time, bool) {
	if len(m) != 1 {
		return time.Time{}, false
	}
	raw, ok := m[dateKey]
	if !ok {
		return time.Time{}, false
	}
	switch d := raw.(type) {
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t.UTC(), true
			}
		}
	case float64:
		return time.UnixMilli(int64(d)).UTC(), true
	}
	return time.Time{}, false
}
