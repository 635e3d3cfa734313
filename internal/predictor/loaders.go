package predictor

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/stockrs-go/tradeengine/internal/apperr"
)

// LoadFeatureNames reads the ordered feature-name list (a JSON array of
// strings) that fixes both which features the scorer expects and in what
// order. Its length is the scorer's input dimensionality.
func LoadFeatureNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "predictor.LoadFeatureNames", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "predictor.LoadFeatureNames", err)
	}
	if len(names) == 0 {
		return nil, apperr.New(apperr.KindConfig, "predictor.LoadFeatureNames", "%s contains no feature names", path)
	}
	return names, nil
}

// LoadInclusionList reads a flat list of stock codes (one per line, blank
// lines and '#' comments ignored) — candidates outside this set are
// excluded before the 15-candidate truncation.
func LoadInclusionList(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "predictor.LoadInclusionList", err)
	}
	defer f.Close()

	out := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "predictor.LoadInclusionList", err)
	}
	return out, nil
}
