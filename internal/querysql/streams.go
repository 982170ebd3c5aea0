package querysql

import (
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/eventdb/internal/queryir"
)

// AnyStreamToken is indexed on every row. Exclusion-only blocks anchor on
// it, because the full-text engine rejects a query made only of NOT terms.
const AnyStreamToken = "anystream"

// StreamToken encodes one stream id as a single full-text token.
//
// Stream ids may contain characters the tokenizer splits on ("health-hr"
// would index as "health" and "hr"), so the NFC form of the id is hex
// encoded behind an "s" prefix. Every token is then one lowercase
// alphanumeric word that can never collide with AnyStreamToken or with a
// query operator.
func StreamToken(streamID string) string {
	return "s" + hex.EncodeToString([]byte(norm.NFC.String(streamID)))
}

// StreamIndex returns the full-text document for a category set: the
// anchor token followed by the sorted, deduplicated stream tokens.
func StreamIndex(streamIDs []string) string {
	tokens := append([]string{AnyStreamToken}, streamTokens(streamIDs)...)
	return strings.Join(tokens, " ")
}

// MatchExpression lowers a stream query to the full-text enhanced query
// syntax. It returns "" for an empty query, which callers render as no
// clause at all.
//
// Lowering, per block:
//
//	Any: [a, b]        →  (sa OR sb)
//	And: [[c], [d, e]] →  sc AND (sd OR se)
//	Not: [f, g]        →  … NOT sf NOT sg
//	no positive terms  →  anystream NOT …
//
// Blocks are joined with OR, each in parentheses. Ids are deduplicated and
// sorted, so label order and repetition never change the output.
func MatchExpression(q queryir.StreamsQuery) string {
	var blocks []string
	for _, b := range q.Blocks {
		if b.IsEmpty() {
			continue
		}
		blocks = append(blocks, blockExpression(b))
	}

	switch len(blocks) {
	case 0:
		return ""
	case 1:
		return blocks[0]
	default:
		return "(" + strings.Join(blocks, ") OR (") + ")"
	}
}

func blockExpression(b queryir.StreamsBlock) string {
	var positives []string
	if g := orGroup(b.Any); g != "" {
		positives = append(positives, g)
	}
	for _, group := range b.And {
		if g := orGroup(group); g != "" {
			positives = append(positives, g)
		}
	}
	sort.Strings(positives)
	positives = dedupeSorted(positives)

	nots := streamTokens(b.Not)

	var expr string
	switch {
	case len(positives) == 0:
		expr = AnyStreamToken
	case len(positives) == 1:
		expr = positives[0]
	case len(nots) > 0:
		expr = "(" + strings.Join(positives, " AND ") + ")"
	default:
		expr = strings.Join(positives, " AND ")
	}

	for _, tok := range nots {
		expr += " NOT " + tok
	}
	return expr
}

// orGroup renders a disjunction of stream ids; "" for an empty group.
func orGroup(ids []string) string {
	tokens := streamTokens(ids)
	switch len(tokens) {
	case 0:
		return ""
	case 1:
		return tokens[0]
	default:
		return "(" + strings.Join(tokens, " OR ") + ")"
	}
}

// streamTokens encodes, sorts and deduplicates stream ids.
func streamTokens(ids []string) []string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tokens = append(tokens, StreamToken(id))
	}
	sort.Strings(tokens)
	return dedupeSorted(tokens)
}

func dedupeSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
