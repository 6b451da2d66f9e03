package IO

import (
	"encoding/json"
	"os"
)

type vocabFile struct {
	TokenToID map[string]int `json:"TokenToID"`
	IDToToken []string       `json:"IDToToken"`
}

func ExportVocabJSON(path string, vocab []string) error {
	tok2id := make(map[string]int, len(vocab))
	for i, t := range vocab {
		tok2id[t] = i
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(vocabFile{TokenToID: tok2id, IDToToken: vocab})
}

// ImportVocabJSON returns the id-ordered token list of a vocab.json.
func ImportVocabJSON(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var data vocabFile
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, err
	}
	return data.IDToToken, nil
}
