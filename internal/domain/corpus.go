package domain

// LabeledRecord is a corpus row: a patient plus the ground-truth label.
type LabeledRecord struct {
	Record   PatientRecord
	Diabetic int
}

// Corpus is an ordered, read-only snapshot of labelled patients. Row
// positions are stable identifiers used by the similarity index.
type Corpus struct {
	rows []LabeledRecord
}

// NewCorpus copies rows into a new corpus snapshot.
func NewCorpus(rows []LabeledRecord) *Corpus {
	cp := make([]LabeledRecord, len(rows))
	copy(cp, rows)
	return &Corpus{rows: cp}
}

// Len returns the number of rows.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rows)
}

// Row returns the row at position i.
func (c *Corpus) Row(i int) LabeledRecord { return c.rows[i] }

// Records returns a copy of all patient records in row order.
func (c *Corpus) Records() []PatientRecord {
	out := make([]PatientRecord, len(c.rows))
	for i, r := range c.rows {
		out[i] = r.Record
	}
	return out
}

// Matrix returns the raw feature matrix in row order.
func (c *Corpus) Matrix() [][]float64 {
	out := make([][]float64, len(c.rows))
	for i, r := range c.rows {
		out[i] = r.Record.Vector()
	}
	return out
}

// Labels returns the ground-truth labels in row order.
func (c *Corpus) Labels() []int {
	out := make([]int, len(c.rows))
	for i, r := range c.rows {
		out[i] = r.Diabetic
	}
	return out
}

// Positives counts diabetic rows.
func (c *Corpus) Positives() int {
	n := 0
	for _, r := range c.rows {
		n += r.Diabetic
	}
	return n
}
