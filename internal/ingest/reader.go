package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// LoadSources reads a list of sources from a .yaml/.yml or .csv file
func LoadSources(path string) ([]domain.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return readYAML(f)
	default:
		return readCSV(f)
	}
}

type sourcesFile struct {
	Sources []domain.Source `yaml:"sources"`
}

func readYAML(r io.Reader) ([]domain.Source, error) {
	var doc sourcesFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode sources yaml: %w", err)
	}
	var out []domain.Source
	for _, s := range doc.Sources {
		s.URL = strings.TrimSpace(s.URL)
		s.Label = strings.TrimSpace(s.Label)
		if s.URL == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// readCSV expects a header row followed by url[,label] rows
func readCSV(r io.Reader) ([]domain.Source, error) {
	cr := csv.NewReader(stripBOM(r))
	cr.FieldsPerRecord = -1

	var out []domain.Source
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sources csv line %d: %w", line+1, err)
		}
		line++
		if line == 1 {
			continue // Skip header
		}

		u := strings.TrimSpace(record[0])
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		s := domain.Source{URL: u}
		if len(record) > 1 {
			s.Label = strings.TrimSpace(record[1])
		}
		out = append(out, s)
	}
	return out, nil
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
