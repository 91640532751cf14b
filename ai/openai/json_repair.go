// Copyright 2025 Poiesic Systems
//
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


package openai

// repairJSON fixes the malformations small models most often emit:
// keys missing their opening quote (`, type":`) and trailing commas
// before a closing brace or bracket. Text inside string values is untouched.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			if ch == '\\' && i+1 < len(in) {
				i++
				out = append(out, in[i])
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
		case ',':
			next := skipSpace(in, i+1)
			if next < len(in) && (in[next] == '}' || in[next] == ']') {
				continue
			}
			out = append(out, ch)
			i = copyUnquotedKey(in, i+1, &out) - 1
		case '{':
			out = append(out, ch)
			i = copyUnquotedKey(in, i+1, &out) - 1
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

// copyUnquotedKey copies the whitespace after position start and, when it is
// followed by a bare word ending in `":`, adds the missing opening quote.
// It returns the index of the first rune not consumed.
func copyUnquotedKey(in []rune, start int, out *[]rune) int {
	i := start
	for i < len(in) && isSpace(in[i]) {
		*out = append(*out, in[i])
		i++
	}
	if i >= len(in) || !isLetter(in[i]) {
		return i
	}
	end := i
	for end < len(in) && (isLetter(in[end]) || in[end] == '_') {
		end++
	}
	if end+1 < len(in) && in[end] == '"' && in[end+1] == ':' {
		*out = append(*out, '"')
		*out = append(*out, in[i:end]...)
		*out = append(*out, '"')
		return end + 1
	}
	return i
}

func skipSpace(in []rune, i int) int {
	for i < len(in) && isSpace(in[i]) {
		i++
	}
	return i
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
