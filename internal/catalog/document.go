package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
	"github.com/Brownie44l1/challenge-api/internal/prompt"
)

// document mirrors the upstream objects.yaml:
//
//	label_alias:
//	  dog:
//	    en: [dog, puppy]
//	    zh: [狗]
type document struct {
	LabelAlias map[string]map[string][]string `yaml:"label_alias"`
}

// Parse inverts the alias document into a variant -> key index. Variants are
// folded the same way prompts are so lookups compare like with like. When
// two keys claim the same variant, the alphabetically first key wins.
func Parse(data []byte) (map[string]challenge.Key, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(doc.LabelAlias) == 0 {
		return nil, errors.New("catalog has no label_alias entries")
	}

	keys := make([]string, 0, len(doc.LabelAlias))
	for key := range doc.LabelAlias {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	labels := make(map[string]challenge.Key)
	for _, key := range keys {
		for _, variants := range doc.LabelAlias[key] {
			for _, variant := range variants {
				v := strings.TrimSpace(prompt.Fold(strings.ToLower(variant)))
				if v == "" {
					continue
				}
				if _, taken := labels[v]; !taken {
					labels[v] = challenge.Key(key)
				}
			}
		}
	}
	return labels, nil
}
