package knowledgebase

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// recordFile is the YAML layout accepted by LoadRecords.
type recordFile struct {
	Records []Record `yaml:"records"`
}

// LoadRecords parses knowledge-base records from YAML. Both a top-level list
// and a document with a "records" key are accepted.
func LoadRecords(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}

	var list []Record
	if err := yaml.Unmarshal(data, &list); err == nil {
		return validateRecords(list)
	}

	var file recordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}
	return validateRecords(file.Records)
}

// LoadRecordsFile is LoadRecords on a file path.
func LoadRecordsFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return LoadRecords(f)
}

func validateRecords(records []Record) ([]Record, error) {
	for i, record := range records {
		if record.ISIN == "" {
			return nil, fmt.Errorf("record %d has no isin", i)
		}
		if record.Layer < 0 || record.Layer > 5 {
			return nil, fmt.Errorf("record %s: layer %d out of range", record.ISIN, record.Layer)
		}
	}
	return records, nil
}
