// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package classifier routes a free-form canvas instruction to either the fast
// or the capable execution path.
//
// Classification is a pure function of the instruction text: it is
// deterministic, case-insensitive and has no side effects, so it is safe to
// call speculatively or repeatedly. Rules are evaluated in order and the
// first match wins:
//
//  1. one action verb + one object type + explicit numbers  -> fast
//  2. two or more action verbs, or a conjunction with a verb -> capable
//  3. ambiguous antecedent ("this", "selected", ...)          -> capable
//  4. composite UI construct ("form", "navbar", ...)          -> capable
//  5. spatial arrangement verb ("align", "grid", ...)         -> capable
//  6. anything else                                           -> fast
package classifier

import (
	"regexp"
	"strings"
)

// Classification is the routing class of an instruction.
type Classification string

const (
	// Fast routes to the low-latency provider.
	Fast Classification = "fast"
	// Capable routes to the high-capability provider.
	Capable Classification = "capable"
)

// Rule identifies which classification rule fired.
type Rule string

const (
	RuleSimpleCommand      Rule = "simple_command"
	RuleMultipleActions    Rule = "multiple_actions"
	RuleAmbiguousReference Rule = "ambiguous_reference"
	RuleCompositeConstruct Rule = "composite_construct"
	RuleSpatialArrangement Rule = "spatial_arrangement"
	RuleDefault            Rule = "default"
)

// Decision explains a classification.
type Decision struct {
	Classification Classification `json:"classification"`
	Rule           Rule           `json:"rule"`
	Matched        []string       `json:"matched,omitempty"`
}

// Classify maps an instruction to its routing class.
func Classify(text string) Classification {
	return Explain(text).Classification
}

// Explain classifies text and reports the rule that decided it along with
// the words that triggered the rule.
func Explain(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	words := tokenize(normalized)

	verbs := distinctMatches(words, actionVerbs)
	simpleVerbs := distinctMatches(words, simpleVerbs)
	objects := allMatches(words, objectTypes)

	// Rule 1: a single simple verb acting on a single object at explicit coordinates.
	if len(verbs) == 1 && len(simpleVerbs) == 1 && len(objects) == 1 && hasCoordinates(normalized) {
		return Decision{Classification: Fast, Rule: RuleSimpleCommand, Matched: append(simpleVerbs, objects...)}
	}

	// Rule 2: several actions, or an action chained with a conjunction.
	if len(verbs) >= 2 {
		return Decision{Classification: Capable, Rule: RuleMultipleActions, Matched: verbs}
	}
	if len(verbs) >= 1 {
		if conj := distinctMatches(words, conjunctions); len(conj) > 0 {
			return Decision{Classification: Capable, Rule: RuleMultipleActions, Matched: append(verbs, conj...)}
		}
	}

	// Rule 3
	if refs := distinctMatches(words, antecedents); len(refs) > 0 {
		return Decision{Classification: Capable, Rule: RuleAmbiguousReference, Matched: refs}
	}

	// Rule 4
	if constructs := compositeMatches(normalized, words); len(constructs) > 0 {
		return Decision{Classification: Capable, Rule: RuleCompositeConstruct, Matched: constructs}
	}

	// Rule 5
	if arrangement := distinctMatches(words, arrangementVerbs); len(arrangement) > 0 {
		return Decision{Classification: Capable, Rule: RuleSpatialArrangement, Matched: arrangement}
	}

	return Decision{Classification: Fast, Rule: RuleDefault}
}

var wordPattern = regexp.MustCompile(`[a-z]+`)

func tokenize(s string) []string {
	return wordPattern.FindAllString(s, -1)
}

// distinctMatches returns the distinct words of words found in set, in order
// of first appearance.
func distinctMatches(words []string, set map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		if set[w] && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// allMatches returns every occurrence of a word from set.
func allMatches(words []string, set map[string]bool) []string {
	var out []string
	for _, w := range words {
		if set[w] {
			out = append(out, w)
		}
	}
	return out
}

func compositeMatches(normalized string, words []string) []string {
	out := distinctMatches(words, compositeConstructs)
	for _, phrase := range compositePhrases {
		if phrase.MatchString(normalized) {
			out = append(out, phrase.FindString(normalized))
		}
	}
	return out
}

func hasCoordinates(s string) bool {
	for _, re := range coordinatePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
