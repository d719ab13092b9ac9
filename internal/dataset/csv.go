package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"glucosense/internal/domain"
)

// LabelColumn is the ground-truth column of the training CSV.
const LabelColumn = "diabetic"

// LoadCSV reads a training corpus. The header must contain every feature
// column plus the diabetic label; extra columns are ignored.
func LoadCSV(path string) (*domain.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDataNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a corpus from any reader.
func ReadCSV(r io.Reader) (*domain.Corpus, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", domain.ErrDataNotFound)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, name := range append(append([]string{}, domain.FeatureNames...), LabelColumn) {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.MissingFeatureError{Fields: missing}
	}

	var rows []domain.LabeledRecord
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		fields := make(map[string]any, domain.NumFeatures)
		for _, name := range domain.FeatureNames {
			fields[name] = rec[index[name]]
		}
		patient, err := domain.ParseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		label, err := parseLabel(rec[index[LabelColumn]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		rows = append(rows, domain.LabeledRecord{Record: patient, Diabetic: label})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: csv has no data rows", domain.ErrDataNotFound)
	}
	return domain.NewCorpus(rows), nil
}

func parseLabel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "1", "true":
		return 1, nil
	case "no", "0", "false":
		return 0, nil
	}
	return 0, fmt.Errorf("invalid %s label %q", LabelColumn, s)
}

// WriteCSV writes the corpus in the format LoadCSV reads. Gender is written
// as Male/Female and the label as Yes/No.
func WriteCSV(w io.Writer, corpus *domain.Corpus) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, domain.FeatureNames...), LabelColumn)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < corpus.Len(); i++ {
		row := corpus.Row(i)
		v := row.Record.Vector()
		out := make([]string, 0, len(header))
		for j, x := range v {
			if j == 0 {
				if x == 1 {
					out = append(out, "Male")
				} else {
					out = append(out, "Female")
				}
				continue
			}
			out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
		}
		if row.Diabetic == 1 {
			out = append(out, "Yes")
		} else {
			out = append(out, "No")
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
