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

package classifier

import "regexp"

// simpleVerbs are the verbs the fast path understands on its own.
var simpleVerbs = set(
	"create", "add", "make", "draw",
	"move", "resize", "delete", "remove",
)

// actionVerbs is every verb that denotes a canvas mutation.
var actionVerbs = set(
	"create", "add", "make", "draw", "move", "resize", "delete", "remove",
	"rotate", "arrange", "align", "distribute", "duplicate", "copy",
	"change", "color", "colour", "update", "group", "place", "put", "set", "scale",
)

var objectTypes = set(
	"shape", "circle", "rectangle", "rect", "square", "ellipse", "oval",
	"triangle", "line", "text", "label",
)

var conjunctions = set("and", "then", "with")

var antecedents = set("this", "that", "these", "those", "selected", "them")

var compositeConstructs = set(
	"form", "navbar", "navigation", "card", "header", "footer", "sidebar",
	"modal", "dialog", "menu", "dashboard", "layout", "login", "signup", "table",
)

var compositePhrases = []*regexp.Regexp{
	regexp.MustCompile(`\bnav bar\b`),
	regexp.MustCompile(`\bsign[ -]up\b`),
	regexp.MustCompile(`\blog[ -]in\b`),
}

var arrangementVerbs = set("arrange", "align", "distribute", "grid")

var coordinatePatterns = []*regexp.Regexp{
	// 100,100 / 100, 100 / (100,100)
	regexp.MustCompile(`-?\d+(?:\.\d+)?\s*,\s*-?\d+(?:\.\d+)?`),
	// 200x150 / 200 x 150 / 200 by 150
	regexp.MustCompile(`\d+(?:\.\d+)?\s*(?:x|×|by)\s*\d+(?:\.\d+)?`),
	// (100 100)
	regexp.MustCompile(`\(\s*-?\d+(?:\.\d+)?\s+-?\d+(?:\.\d+)?\s*\)`),
	// x=100 y=100 / x: 100, y: 100
	regexp.MustCompile(`x\s*[:=]\s*-?\d+.*y\s*[:=]\s*-?\d+`),
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
