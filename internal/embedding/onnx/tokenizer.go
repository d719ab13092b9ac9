package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	unkToken   = "[UNK]"
	clsToken   = "[CLS]"
	sepToken   = "[SEP]"
	maxWordLen = 100
)

// Tokenizer is an uncased BERT WordPiece tokenizer.
type Tokenizer struct {
	vocab  map[string]int64
	maxLen int
}

// Encoded is model-ready input for one sentence, without padding.
type Encoded struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// NewTokenizer builds a tokenizer over vocab truncating to maxLen tokens,
// special tokens included.
func NewTokenizer(vocab map[string]int64, maxLen int) (*Tokenizer, error) {
	for _, st := range []string{unkToken, clsToken, sepToken} {
		if _, ok := vocab[st]; !ok {
			return nil, fmt.Errorf("special token %q not found in vocab", st)
		}
	}
	if maxLen < 3 {
		maxLen = 128
	}
	return &Tokenizer{vocab: vocab, maxLen: maxLen}, nil
}

// LoadVocab reads a vocab.txt file; the zero-based line number is the id.
func LoadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab file: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		if tok := strings.TrimSpace(scanner.Text()); tok != "" {
			vocab[tok] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab file: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab file %s is empty", path)
	}
	return vocab, nil
}

// Tokenize splits text into WordPiece tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	var out []string
	for _, word := range basicSplit(clean(text)) {
		out = append(out, t.wordPiece(word)...)
	}
	return out
}

// Encode wraps the tokens of text in [CLS] ... [SEP].
func (t *Tokenizer) Encode(text string) Encoded {
	tokens := t.Tokenize(text)
	if len(tokens) > t.maxLen-2 {
		tokens = tokens[:t.maxLen-2]
	}
	ids := make([]int64, 0, len(tokens)+2)
	ids = append(ids, t.vocab[clsToken])
	for _, tok := range tokens {
		ids = append(ids, t.id(tok))
	}
	ids = append(ids, t.vocab[sepToken])

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return Encoded{InputIDs: ids, AttentionMask: mask, TokenTypeIDs: make([]int64, len(ids))}
}

func (t *Tokenizer) id(tok string) int64 {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	return t.vocab[unkToken]
}

// wordPiece performs greedy longest-match-first sub-word splitting.
func (t *Tokenizer) wordPiece(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordLen {
		return []string{unkToken}
	}
	var pieces []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := ""
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				found = sub
				break
			}
			end--
		}
		if found == "" {
			return []string{unkToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// clean lower-cases, strips accents and drops control characters.
func clean(text string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// basicSplit splits on whitespace and isolates each punctuation rune.
func basicSplit(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		var cur []rune
		for _, r := range field {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				if len(cur) > 0 {
					out = append(out, string(cur))
					cur = cur[:0]
				}
				out = append(out, string(r))
				continue
			}
			cur = append(cur, r)
		}
		if len(cur) > 0 {
			out = append(out, string(cur))
		}
	}
	return out
}
